package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/consultation-slots/internal/model"
)

// Mutation: изменение одной записи, применяемое атомарно вместе с событием аудита
// и уведомлениями в outbox.
type Mutation struct {
	Fields       map[string]any
	ReleaseClaim bool
	Event        *model.Event
	Outbox       []model.OutboxMessage
}

// DecideFunc получает текущее состояние записи и возвращает изменение
// либо ошибку, если переход недопустим.
type DecideFunc func(b *model.Booking) (*Mutation, error)

// Query: фильтр по равенству, сортировка и лимит.
type Query struct {
	Equal   map[string]any
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

type BookingRepository interface {
	// Создать запись вместе с закреплением слота. Занятый слот — ErrSlotTaken.
	Create(ctx context.Context, booking *model.Booking, ev *model.Event) error
	// Получить запись по ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	// Получить запись по ID платёжной транзакции.
	GetByTransactionID(ctx context.Context, txID string) (*model.Booking, error)
	// Условно обновить одну запись.
	Update(ctx context.Context, id uuid.UUID, decide DecideFunc) (*model.Booking, error)
	// Записи, которые могут занимать слот (для построения индекса доступности).
	ListOccupying(ctx context.Context) ([]model.Booking, error)
	// Произвольная выборка с фильтром по равенству.
	Query(ctx context.Context, q Query) ([]model.Booking, error)
	// Активные блокировки начиная с from, по возрастанию слота.
	ListActiveBlocks(ctx context.Context, from time.Time) ([]model.Booking, error)
	// Неоплаченные заявки, одобренные раньше before.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error)
	// Снять закрепления слотов у удалённых блокировок.
	ReleaseDeletedBlockClaims(ctx context.Context) (int64, error)
}

// Колонки, по которым разрешены фильтр и сортировка в Query.
var queryColumns = map[string]struct{}{
	"id":                     {},
	"slot_at":                {},
	"slot_key":               {},
	"status":                 {},
	"payment_status":         {},
	"payment_transaction_id": {},
	"is_admin_block":         {},
	"deleted":                {},
	"consultation_type":      {},
	"contact_email":          {},
	"contact_phone":          {},
	"block_batch_id":         {},
	"created_at":             {},
	"approved_at":            {},
}

// Реализация на GORM.
type GormBookingRepository struct {
	db *gorm.DB
}

func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

func (r *GormBookingRepository) Create(ctx context.Context, booking *model.Booking, ev *model.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(booking).Error; err != nil {
			return err
		}

		claim := model.SlotClaim{
			SlotKey:   booking.SlotKey,
			BookingID: booking.ID,
			ClaimedAt: time.Now().UTC(),
		}
		if err := tx.Create(&claim).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrSlotTaken
			}
			return err
		}

		if ev != nil {
			ev.BookingID = &booking.ID
			if err := tx.Create(ev).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormBookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	var b model.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *GormBookingRepository) GetByTransactionID(ctx context.Context, txID string) (*model.Booking, error) {
	var b model.Booking
	if err := r.db.WithContext(ctx).First(&b, "payment_transaction_id = ?", txID).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// Update читает запись, вызывает decide и применяет изменение только если
// статус и флаг удаления не поменялись с момента чтения.
func (r *GormBookingRepository) Update(ctx context.Context, id uuid.UUID, decide DecideFunc) (*model.Booking, error) {
	var out model.Booking

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Booking
		if err := tx.First(&cur, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		m, err := decide(&cur)
		if err != nil {
			return err
		}
		if m == nil {
			out = cur
			return nil
		}

		if len(m.Fields) > 0 {
			res := tx.Model(&model.Booking{}).
				Where("id = ? AND status = ? AND deleted = ?", cur.ID, cur.Status, cur.Deleted).
				Updates(m.Fields)
			if res.Error != nil {
				return fmt.Errorf("update booking %s: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrStaleRecord
			}
		}

		if m.ReleaseClaim {
			if err := tx.Where("booking_id = ?", cur.ID).Delete(&model.SlotClaim{}).Error; err != nil {
				return err
			}
		}

		if m.Event != nil {
			m.Event.BookingID = &cur.ID
			if err := tx.Create(m.Event).Error; err != nil {
				return err
			}
		}

		for i := range m.Outbox {
			m.Outbox[i].BookingID = cur.ID
		}
		if len(m.Outbox) > 0 {
			if err := tx.Create(&m.Outbox).Error; err != nil {
				return err
			}
		}

		return tx.First(&out, "id = ?", cur.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *GormBookingRepository) ListOccupying(ctx context.Context) ([]model.Booking, error) {
	var bookings []model.Booking
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []model.BookingStatus{model.StatusRestored, model.StatusCancelled}).
		Where("deleted = ? OR is_admin_block = ?", false, true).
		Order("slot_at ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *GormBookingRepository) Query(ctx context.Context, q Query) ([]model.Booking, error) {
	tx := r.db.WithContext(ctx).Model(&model.Booking{})

	for col, val := range q.Equal {
		if _, ok := queryColumns[col]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
		tx = tx.Where(col+" = ?", val)
	}

	order := "created_at"
	if q.OrderBy != "" {
		if _, ok := queryColumns[q.OrderBy]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, q.OrderBy)
		}
		order = q.OrderBy
	}
	if q.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}
	tx = tx.Order(order).Order("id ASC")

	if q.Limit > 0 {
		tx = tx.Limit(q.Limit).Offset(q.Offset)
	}

	var bookings []model.Booking
	if err := tx.Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *GormBookingRepository) ListActiveBlocks(ctx context.Context, from time.Time) ([]model.Booking, error) {
	var bookings []model.Booking
	err := r.db.WithContext(ctx).
		Where("is_admin_block = ? AND deleted = ?", true, false).
		Where("status = ?", model.StatusAdminCancelledSlot).
		Where("slot_at >= ?", from.UTC()).
		Order("slot_at ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *GormBookingRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND deleted = ?", model.StatusPendingPayment, false, false).
		Where("approved_at < ?", before.UTC()).
		Order("approved_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var bookings []model.Booking
	err := q.Find(&bookings).Error
	return bookings, err
}

func (r *GormBookingRepository) ReleaseDeletedBlockClaims(ctx context.Context) (int64, error) {
	sub := r.db.Model(&model.Booking{}).
		Select("id").
		Where("is_admin_block = ? AND deleted = ?", true, true)

	res := r.db.WithContext(ctx).
		Where("booking_id IN (?)", sub).
		Delete(&model.SlotClaim{})
	return res.RowsAffected, res.Error
}
