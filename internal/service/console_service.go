package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/changefeed"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// BlockRequest: параметры массовой блокировки.
// From/To: время суток "ЧЧ:ММ", пустые значения означают весь день.
// Remove и Add — ручная правка списка кандидатов перед записью.
type BlockRequest struct {
	StartDate time.Time
	EndDate   time.Time
	From      string
	To        string
	Pattern   string

	Remove []time.Time
	Add    []time.Time
}

// BlockFailure: кандидат, для которого блокировка не создана.
type BlockFailure struct {
	Slot time.Time
	Err  error
}

// BlockResult: итог пакета. Успешные записи остаются, даже если часть кандидатов упала.
type BlockResult struct {
	BatchID uuid.UUID
	Created []model.Booking
	Failed  []BlockFailure
}

// ConsoleService: административные операции над блокировками слотов.
type ConsoleService struct {
	bookings repository.BookingRepository
	batches  repository.BlockBatchRepository
	notifier changefeed.Notifier

	avail     *availability
	guard     *ConflictGuard
	lifecycle lifecycle
	window    calendar.Window
	policy    model.BlockDeletePolicy

	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewConsoleService(deps Deps) *ConsoleService {
	deps.defaults()
	return &ConsoleService{
		bookings: deps.Bookings,
		batches:  deps.Batches,
		notifier: deps.Notifier,
		avail: &availability{
			bookings: deps.Bookings,
			feed:     deps.Feed,
			window:   deps.Window,
			policy:   deps.Policy,
			metrics:  deps.Metrics,
		},
		guard:     NewConflictGuard(deps.Metrics),
		lifecycle: lifecycle{policy: deps.Policy, loc: deps.Window.Location, now: deps.Now},
		window:    deps.Window,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		log:       deps.Log,
		now:       deps.Now,
	}
}

func parseBounds(req BlockRequest) (calendar.TimeOfDay, calendar.TimeOfDay, calendar.Pattern, error) {
	from, to := calendar.StartOfDay, calendar.EndOfDay
	var err error
	if req.From != "" {
		if from, err = calendar.ParseTimeOfDay(req.From); err != nil {
			return from, to, "", invalid("from", err.Error())
		}
	}
	if req.To != "" {
		if to, err = calendar.ParseTimeOfDay(req.To); err != nil {
			return from, to, "", invalid("to", err.Error())
		}
	}
	pattern, err := calendar.ParsePattern(req.Pattern)
	if err != nil {
		return from, to, "", invalid("pattern", err.Error())
	}
	return from, to, pattern, nil
}

// PlanBlocks вычисляет кандидатов: слоты диапазона с учётом шаблона и времени суток,
// затем убирает Remove и добавляет Add. Ничего не пишет.
func (c *ConsoleService) PlanBlocks(req BlockRequest) ([]calendar.TimeSlot, error) {
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, invalid("dates", "start and end dates are required")
	}
	from, to, pattern, err := parseBounds(req)
	if err != nil {
		return nil, err
	}

	slots, err := calendar.RangeSlotsBetween(c.window, req.StartDate, req.EndDate, from, to, pattern)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidTimeOfDay) || errors.Is(err, calendar.ErrRangeTooLong) {
			return nil, invalid("range", err.Error())
		}
		return nil, err
	}

	removed := make(map[string]struct{}, len(req.Remove))
	for _, t := range req.Remove {
		removed[calendar.SlotKey(t)] = struct{}{}
	}

	planned := make(map[string]struct{}, len(slots))
	out := make([]calendar.TimeSlot, 0, len(slots)+len(req.Add))
	for _, s := range slots {
		if _, skip := removed[s.Key()]; skip {
			continue
		}
		planned[s.Key()] = struct{}{}
		out = append(out, s)
	}

	for _, t := range req.Add {
		at := calendar.NormalizeSlotTime(t)
		onGrid := false
		for _, s := range calendar.DailySlots(c.window, at) {
			if s.Start.Equal(at) {
				onGrid = true
				break
			}
		}
		if !onGrid {
			return nil, invalid("add", fmt.Sprintf("%s is not a slot start", calendar.SlotKey(at)))
		}
		key := calendar.SlotKey(at)
		if _, dup := planned[key]; dup {
			continue
		}
		planned[key] = struct{}{}
		out = append(out, calendar.TimeSlot{Start: at, Duration: c.window.SlotDuration})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateBlocks создаёт по одной блокировке AdminCancelledSlot на каждого кандидата.
// Записи независимы: отказ одной не откатывает остальные.
func (c *ConsoleService) CreateBlocks(ctx context.Context, actor Actor, req BlockRequest) (*BlockResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	candidates, err := c.PlanBlocks(req)
	if err != nil {
		return nil, err
	}

	rules, err := json.Marshal(model.BlockRules{
		Pattern: req.Pattern,
		From:    req.From,
		To:      req.To,
		Added:   slotKeys(req.Add),
		Removed: slotKeys(req.Remove),
	})
	if err != nil {
		return nil, fmt.Errorf("encode block rules: %w", err)
	}

	batch := &model.BlockBatch{
		StartDate: datatypes.Date(req.StartDate),
		EndDate:   datatypes.Date(req.EndDate),
		TimeZone:  c.window.Location.String(),
		Rules:     datatypes.JSON(rules),
		Requested: len(candidates),
		CreatedBy: actor.ID,
	}
	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, storageErr("create block batch", err)
	}

	ix, err := c.avail.index(ctx)
	if err != nil {
		return nil, err
	}

	res := &BlockResult{BatchID: batch.ID}
	now := c.now()
	for _, slot := range candidates {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BlockFailure{Slot: slot.Start, Err: err})
			continue
		}
		if !slot.Start.After(now) {
			res.Failed = append(res.Failed, BlockFailure{Slot: slot.Start, Err: invalid("slot", "is in the past")})
			continue
		}
		if err := c.guard.Check(ix, slot.Start); err != nil {
			res.Failed = append(res.Failed, BlockFailure{Slot: slot.Start, Err: err})
			continue
		}

		b := &model.Booking{
			SlotAt:       slot.Start.UTC(),
			SlotKey:      slot.Key(),
			DurationMin:  int(slot.Duration / time.Minute),
			Status:       model.StatusAdminCancelledSlot,
			IsAdminBlock: true,
			BlockBatchID: &batch.ID,
		}
		ev := c.lifecycle.event(model.EventTypeBlockCreated, actor, "", b.Status, batch.ID.String())
		if err := c.bookings.Create(ctx, b, ev); err != nil {
			if errors.Is(err, repository.ErrSlotTaken) {
				c.metrics.SlotConflicts.WithLabelValues("storage").Inc()
			}
			res.Failed = append(res.Failed, BlockFailure{Slot: slot.Start, Err: storageErr("create block", err)})
			continue
		}
		res.Created = append(res.Created, *b)
	}

	c.metrics.BlocksCreated.Add(float64(len(res.Created)))
	c.metrics.BlocksFailed.Add(float64(len(res.Failed)))

	if err := c.batches.UpdateCounts(ctx, batch.ID, len(res.Created), len(res.Failed)); err != nil {
		// блокировки уже созданы, счётчики пакета только справочные
		c.log.Warn("block batch counts not saved", zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}

	c.log.Info("block batch processed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("actor", actor.ID),
		zap.Int("requested", len(candidates)),
		zap.Int("created", len(res.Created)),
		zap.Int("failed", len(res.Failed)),
	)
	if len(res.Created) > 0 {
		c.changed(ctx)
	}
	return res, nil
}

func slotKeys(ts []time.Time) []string {
	if len(ts) == 0 {
		return nil
	}
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, calendar.SlotKey(t))
	}
	return out
}

// ListActiveBlocks: неудалённые предстоящие блокировки по возрастанию слота.
func (c *ConsoleService) ListActiveBlocks(ctx context.Context, actor Actor, page, pageSize int) (calendar.Page[model.Booking], error) {
	if err := requireAdmin(actor); err != nil {
		return calendar.Page[model.Booking]{}, err
	}
	blocks, err := c.bookings.ListActiveBlocks(ctx, c.now())
	if err != nil {
		return calendar.Page[model.Booking]{}, storageErr("list active blocks", err)
	}
	return calendar.Paginate(blocks, page, pageSize), nil
}

// RestoreBlock снимает блокировку: слот снова свободен.
func (c *ConsoleService) RestoreBlock(ctx context.Context, actor Actor, id uuid.UUID) (*model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	b, err := c.bookings.Update(ctx, id, c.lifecycle.restore(actor))
	if err != nil {
		return nil, storageErr("restore block", err)
	}
	c.metrics.Transitions.WithLabelValues(string(model.StatusAdminCancelledSlot), string(b.Status)).Inc()
	c.log.Info("block restored", zap.String("booking_id", id.String()), zap.String("actor", actor.ID))
	c.changed(ctx)
	return b, nil
}

// DeleteBlock мягко удаляет блокировку. При keep_occupied слот остаётся занятым.
func (c *ConsoleService) DeleteBlock(ctx context.Context, actor Actor, id uuid.UUID) (*model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	b, err := c.bookings.Update(ctx, id, c.lifecycle.deleteBlock(actor))
	if err != nil {
		return nil, storageErr("delete block", err)
	}
	c.log.Info("block deleted",
		zap.String("booking_id", id.String()),
		zap.String("actor", actor.ID),
		zap.String("policy", string(c.policy)),
	)
	c.changed(ctx)
	return b, nil
}

// BlockBatch возвращает сохранённый пакет блокировок.
func (c *ConsoleService) BlockBatch(ctx context.Context, actor Actor, id uuid.UUID) (*model.BlockBatch, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	batch, err := c.batches.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get block batch", err)
	}
	return batch, nil
}

// ReconcileClaims приводит slot_claims в соответствие с политикой release_slot
// для блокировок, удалённых раньше при keep_occupied.
func (c *ConsoleService) ReconcileClaims(ctx context.Context) (int64, error) {
	if c.policy != model.DeletePolicyReleaseSlot {
		return 0, nil
	}
	n, err := c.bookings.ReleaseDeletedBlockClaims(ctx)
	if err != nil {
		return 0, storageErr("release deleted block claims", err)
	}
	if n > 0 {
		c.log.Info("released claims of deleted blocks", zap.Int64("count", n))
		c.changed(ctx)
	}
	return n, nil
}

func (c *ConsoleService) changed(ctx context.Context) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx); err != nil {
		c.log.Warn("change notification failed", zap.Error(err))
	}
}
