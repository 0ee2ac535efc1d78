package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/consultation-slots/internal/model"
)

type OutboxRepository interface {
	// Сообщения, готовые к отправке на момент now, в порядке NextAttemptAt.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error
	// Запланировать повтор.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	// Попытки исчерпаны.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]model.OutboxMessage, error)
	CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error)
}

type GormOutboxRepository struct {
	db *gorm.DB
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

func (r *GormOutboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.OutboxMessage, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.OutboxStatusPending, now.UTC()).
		Order("next_attempt_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var msgs []model.OutboxMessage
	err := q.Find(&msgs).Error
	return msgs, err
}

func (r *GormOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error {
	at = at.UTC()
	return r.update(ctx, id, map[string]any{
		"status":     model.OutboxStatusSent,
		"attempts":   attempts,
		"sent_at":    &at,
		"last_error": "",
	})
}

func (r *GormOutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return r.update(ctx, id, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next.UTC(),
		"last_error":      lastErr,
	})
}

func (r *GormOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return r.update(ctx, id, map[string]any{
		"status":     model.OutboxStatusFailed,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

func (r *GormOutboxRepository) update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormOutboxRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Order("channel ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *GormOutboxRepository) CountByStatus(ctx context.Context, status model.OutboxStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}
