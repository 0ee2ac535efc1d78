package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/changefeed"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// ConflictGuard: предварительная проверка перед созданием записи или блокировки.
// Смотрит только в переданный снимок и ничего не блокирует: от гонки
// защищает уникальный ключ slot_claims в хранилище.
type ConflictGuard struct {
	metrics *monitoring.Metrics
}

func NewConflictGuard(metrics *monitoring.Metrics) *ConflictGuard {
	if metrics == nil {
		metrics = monitoring.NewNopMetrics()
	}
	return &ConflictGuard{metrics: metrics}
}

// Check отклоняет слот тогда и только тогда, когда его ключ есть в снимке занятых.
func (g *ConflictGuard) Check(ix *calendar.Index, slot time.Time) error {
	if !ix.IsSlotAvailable(slot) {
		g.metrics.SlotConflicts.WithLabelValues("guard").Inc()
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, calendar.SlotKey(slot))
	}
	return nil
}

// availability строит индекс доступности из текущих записей хранилища.
type availability struct {
	bookings repository.BookingRepository
	feed     *changefeed.Feed
	window   calendar.Window
	policy   model.BlockDeletePolicy
	metrics  *monitoring.Metrics
}

// occupiedTimes отбирает моменты записей, которые занимают слот при текущей политике.
func occupiedTimes(bookings []model.Booking, policy model.BlockDeletePolicy) []time.Time {
	out := make([]time.Time, 0, len(bookings))
	for i := range bookings {
		if bookings[i].Occupies(policy) {
			out = append(out, bookings[i].SlotAt)
		}
	}
	return out
}

func (a *availability) index(ctx context.Context) (*calendar.Index, error) {
	started := time.Now()
	bookings, err := a.bookings.ListOccupying(ctx)
	if err != nil {
		return nil, storageErr("list occupying bookings", err)
	}
	ix := calendar.NewIndex(a.window, occupiedTimes(bookings, a.policy))
	a.metrics.IndexRebuildSecs.Observe(time.Since(started).Seconds())
	return ix, nil
}

// watch отдаёт новый индекс после каждого изменения данных.
func (a *availability) watch(ctx context.Context) (<-chan *calendar.Index, error) {
	if a.feed == nil {
		return nil, fmt.Errorf("change feed is not configured")
	}
	return changefeed.Watch[*calendar.Index](ctx, a.feed, a.index)
}
