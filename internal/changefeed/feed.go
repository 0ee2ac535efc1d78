package changefeed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// Snapshot: результат выборки на момент At.
type Snapshot struct {
	Bookings []model.Booking
	At       time.Time
}

// LoadFunc строит производное значение по текущему состоянию хранилища.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Feed пересчитывает подписки при каждом сигнале шины и по таймеру опроса.
// Таймер страхует от потерянных сигналов; нулевой интервал его отключает.
type Feed struct {
	bus          Bus
	bookings     repository.BookingRepository
	pollInterval time.Duration
	log          *zap.Logger
}

func NewFeed(bus Bus, bookings repository.BookingRepository, pollInterval time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{bus: bus, bookings: bookings, pollInterval: pollInterval, log: log}
}

// Subscribe отдаёт снимки выборки q: первый сразу, затем после каждого изменения.
func (f *Feed) Subscribe(ctx context.Context, q repository.Query) (<-chan Snapshot, error) {
	return Watch[Snapshot](ctx, f, func(ctx context.Context) (Snapshot, error) {
		bookings, err := f.bookings.Query(ctx, q)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Bookings: bookings, At: time.Now().UTC()}, nil
	})
}

// Watch вызывает load на старте и после каждого изменения и отправляет результат в канал.
// Медленный читатель получает только самое свежее значение. Ошибки load
// логируются, следующая попытка будет на следующем сигнале или тике.
// Канал закрывается после отмены ctx.
func Watch[T any](ctx context.Context, f *Feed, load LoadFunc[T]) (<-chan T, error) {
	signals, err := f.bus.Listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan T, 1)

	go func() {
		defer close(out)

		var tick <-chan time.Time
		if f.pollInterval > 0 {
			ticker := time.NewTicker(f.pollInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		emit := func() {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.log.Warn("change feed reload failed", zap.Error(err))
				}
				return
			}
			select {
			case out <- v:
			default:
				// вытесняем устаревшее значение
				select {
				case <-out:
				default:
				}
				out <- v
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				emit()
			case <-tick:
				emit()
			}
		}
	}()

	return out, nil
}
