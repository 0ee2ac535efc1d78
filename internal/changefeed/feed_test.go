package changefeed

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Leganyst/consultation-slots/internal/config"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

func newTestRepo(t *testing.T) *repository.GormBookingRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewGormBookingRepository(db)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestFeed_SubscribeReloadsOnNotify(t *testing.T) {
	repo := newTestRepo(t)
	bus := NewLocalBus()
	feed := NewFeed(bus, repo, 0, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps, err := feed.Subscribe(ctx, repository.Query{Equal: map[string]any{"deleted": false}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if first := recv(t, snaps); len(first.Bookings) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(first.Bookings))
	}

	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	b := &model.Booking{SlotAt: at, SlotKey: "2025-06-02T09:00Z", DurationMin: 60, Status: model.StatusAwaitingAdminResponse}
	if err := repo.Create(ctx, b, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bus.Notify(ctx); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if next := recv(t, snaps); len(next.Bookings) != 1 || next.Bookings[0].ID != b.ID {
		t.Fatalf("unexpected snapshot: %+v", next)
	}

	cancel()
	for range snaps {
	}
}

func TestFeed_PollingWithoutSignals(t *testing.T) {
	repo := newTestRepo(t)
	feed := NewFeed(NewLocalBus(), repo, 20*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	ch, err := Watch[int](ctx, feed, func(context.Context) (int, error) {
		calls++
		return calls, nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	recv(t, ch)
	if v := recv(t, ch); v < 2 {
		t.Fatalf("expected reload from poll ticker, got %d", v)
	}
}

func TestLocalBus_CoalescesSignals(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := bus.Listen(ctx)
	for i := 0; i < 5; i++ {
		_ = bus.Notify(ctx)
	}
	recv(t, ch)
	select {
	case <-ch:
		t.Fatalf("signals must coalesce")
	default:
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("listener not closed after cancel")
	}
}

func TestRedisBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, err := NewRedisBus(ctx, config.RedisConfig{Addr: addr}, "test:bookings:changed")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bus.Close()

	ch, err := bus.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := bus.Notify(ctx); err != nil {
		t.Fatalf("notify: %v", err)
	}
	recv(t, ch)
}
