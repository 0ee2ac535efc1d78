package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task: одна итерация фоновой задачи. Возвращает число обработанных записей.
type Task func(ctx context.Context) (int, error)

// Scheduler запускает фоновые задачи по cron-расписанию.
// Следующий запуск задачи пропускается, пока предыдущий не завершился.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger: адаптер zap для логгера cron.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New создаёт планировщик. timeout ограничивает одну итерацию, 0 — без ограничения.
func New(log *zap.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{s: log.Named("cron").Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add регистрирует задачу. Пустое расписание отключает задачу.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if spec == "" {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	n, err := task(ctx)
	if err != nil {
		s.log.Error("job failed",
			zap.String("job", name),
			zap.Duration("took", time.Since(started)),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		s.log.Info("job done",
			zap.String("job", name),
			zap.Int("processed", n),
			zap.Duration("took", time.Since(started)),
		)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop отменяет контекст задач и ждёт завершения запущенных итераций.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
