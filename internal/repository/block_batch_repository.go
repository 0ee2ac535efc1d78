package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/consultation-slots/internal/model"
)

type BlockBatchRepository interface {
	Create(ctx context.Context, batch *model.BlockBatch) error
	// Записать итог пакета после всех независимых вставок.
	UpdateCounts(ctx context.Context, id uuid.UUID, created, failed int) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.BlockBatch, error)
}

type GormBlockBatchRepository struct {
	db *gorm.DB
}

func NewGormBlockBatchRepository(db *gorm.DB) *GormBlockBatchRepository {
	return &GormBlockBatchRepository{db: db}
}

func (r *GormBlockBatchRepository) Create(ctx context.Context, batch *model.BlockBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *GormBlockBatchRepository) UpdateCounts(ctx context.Context, id uuid.UUID, created, failed int) error {
	return r.db.WithContext(ctx).
		Model(&model.BlockBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{"created": created, "failed": failed}).
		Error
}

func (r *GormBlockBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.BlockBatch, error) {
	var b model.BlockBatch
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}
