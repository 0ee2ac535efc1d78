package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/payment"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db       *gorm.DB
	bookings *repository.GormBookingRepository
	metrics  *monitoring.Metrics
	clock    *testClock
	booking  *BookingService
	console  *ConsoleService
}

// newTestEnv поднимает сервисы поверх sqlite в памяти. Часы стоят на
// воскресенье 2025-06-01 12:00 UTC, ближайший рабочий день — понедельник 2 июня.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	bookings := repository.NewGormBookingRepository(db)

	deps := Deps{
		Bookings: bookings,
		Events:   repository.NewGormEventRepository(db),
		Batches:  repository.NewGormBlockBatchRepository(db),
		Window:   calendar.DefaultWindow(time.UTC),
		Policy:   model.DeletePolicyKeepOccupied,
		Metrics:  metrics,
		Log:      zaptest.NewLogger(t),
		Now:      clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &testEnv{
		db:       db,
		bookings: bookings,
		metrics:  metrics,
		clock:    clock,
		booking:  NewBookingService(deps),
		console:  NewConsoleService(deps),
	}
}

func slot(day, hour int) time.Time {
	return time.Date(2025, 6, day, hour, 0, 0, 0, time.UTC)
}

func submitRequest(at time.Time) SubmitRequest {
	return SubmitRequest{
		SlotAt:           at,
		Contact:          model.Contact{Name: "Анна Петрова", Email: "anna@example.com", Phone: "+7 999 123-45-67"},
		ConsultationType: "первичная",
		Description:      "вопрос по договору",
	}
}

func (e *testEnv) submit(t *testing.T, at time.Time) *model.Booking {
	t.Helper()
	b, err := e.booking.Submit(context.Background(), submitRequest(at))
	if err != nil {
		t.Fatalf("submit %s: %v", at, err)
	}
	return b
}

func (e *testEnv) countOutbox(t *testing.T, b *model.Booking) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&model.OutboxMessage{}).Where("booking_id = ?", b.ID).Count(&n).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}

func (e *testEnv) available(t *testing.T, at time.Time) bool {
	t.Helper()
	ix, err := e.booking.Availability(context.Background())
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	return ix.IsSlotAvailable(at)
}

// staleSnapshotRepo отдаёт пустое множество занятых слотов, как устаревший снимок.
type staleSnapshotRepo struct {
	repository.BookingRepository
}

func (staleSnapshotRepo) ListOccupying(context.Context) ([]model.Booking, error) {
	return nil, nil
}

type fakeGateway struct {
	calls int
	last  payment.Request
	err   error
}

func (g *fakeGateway) Initiate(_ context.Context, req payment.Request) (*payment.Intent, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Intent{TransactionID: "pi_test_1", ClientSecret: "secret", Status: "requires_payment_method"}, nil
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context) error {
	return errors.New("bus is down")
}
