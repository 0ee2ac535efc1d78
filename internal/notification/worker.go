package notification

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Leganyst/consultation-slots/internal/config"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// WorkerConfig: параметры доставки из outbox.
type WorkerConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration
	RatePerSec  float64
	Burst       int
}

func WorkerConfigFrom(c config.OutboxConfig) WorkerConfig {
	return WorkerConfig{
		BatchSize:   c.BatchSize,
		MaxAttempts: c.MaxAttempts,
		BaseBackoff: c.BaseBackoff,
		MaxBackoff:  c.MaxBackoff,
		SendTimeout: c.SendTimeout,
		RatePerSec:  c.RatePerSec,
		Burst:       c.RateBurst,
	}
}

// Worker забирает созревшие сообщения из outbox и передаёт их диспетчеру.
// Неудача переносит попытку по экспоненте; после MaxAttempts сообщение помечается failed.
// Рассчитан на один экземпляр на базу.
type Worker struct {
	outbox     repository.OutboxRepository
	dispatcher Dispatcher
	limiter    *rate.Limiter
	cfg        WorkerConfig
	metrics    *monitoring.Metrics
	log        *zap.Logger

	now func() time.Time
}

func NewWorker(
	outbox repository.OutboxRepository,
	dispatcher Dispatcher,
	cfg WorkerConfig,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	if metrics == nil {
		metrics = monitoring.NewNopMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Worker{
		outbox:     outbox,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(limit, burst),
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Backoff возвращает задержку перед следующей попыткой после attempt неудачных:
// base * 2^(attempt-1), но не больше MaxBackoff.
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

// RunOnce обрабатывает одну пачку созревших сообщений и возвращает число доставленных.
// Ошибки доставки не возвращаются: они записываются в outbox и в лог.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.outbox.ListDue(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range due {
		if err := w.limiter.Wait(ctx); err != nil {
			return sent, err
		}

		ok, err := w.deliver(ctx, m)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}

	if len(due) > 0 {
		w.log.Debug("outbox cycle", zap.Int("due", len(due)), zap.Int("sent", sent))
	}
	return sent, nil
}

// deliver возвращает ошибку только при сбое записи состояния в outbox.
func (w *Worker) deliver(ctx context.Context, m model.OutboxMessage) (bool, error) {
	attempt := m.Attempts + 1
	ch := string(m.Channel)

	msg, err := Decode(m)
	if err == nil {
		sendCtx := ctx
		if w.cfg.SendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, w.cfg.SendTimeout)
			defer cancel()
		}
		err = w.dispatcher.Dispatch(sendCtx, msg)
	}

	if err == nil {
		if err := w.outbox.MarkSent(ctx, m.ID, attempt, w.now()); err != nil {
			return false, err
		}
		w.metrics.OutboxDelivered.WithLabelValues(ch).Inc()
		return true, nil
	}

	dispatchErr := &DispatchError{MessageID: m.ID, Channel: m.Channel, Attempt: attempt, Err: err}

	if attempt >= w.cfg.MaxAttempts {
		w.log.Error("notification dropped after max attempts",
			zap.String("message_id", m.ID.String()),
			zap.String("booking_id", m.BookingID.String()),
			zap.Error(dispatchErr),
		)
		monitoring.CaptureError(dispatchErr, map[string]interface{}{
			"message_id": m.ID.String(),
			"booking_id": m.BookingID.String(),
			"channel":    ch,
		})
		w.metrics.OutboxFailed.WithLabelValues(ch).Inc()
		return false, w.outbox.MarkFailed(ctx, m.ID, attempt, err.Error())
	}

	next := w.now().Add(w.Backoff(attempt))
	w.log.Warn("notification dispatch failed, will retry",
		zap.String("message_id", m.ID.String()),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(dispatchErr),
	)
	w.metrics.OutboxRetried.WithLabelValues(ch).Inc()
	return false, w.outbox.MarkRetry(ctx, m.ID, attempt, next, err.Error())
}
