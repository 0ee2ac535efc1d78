package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Параметры массовой блокировки, хранятся в BlockBatch.Rules.
type BlockRules struct {
	Pattern string   `json:"pattern"`
	From    string   `json:"from"` // ЧЧ:ММ
	To      string   `json:"to"`   // ЧЧ:ММ, не включительно
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// block_batches: одна операция массовой блокировки слотов.
type BlockBatch struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Чистые даты без времени — datatypes.Date
	StartDate datatypes.Date `gorm:"not null"`
	EndDate   datatypes.Date `gorm:"not null"`

	TimeZone string `gorm:"type:varchar(64);not null;default:'UTC'"`

	Rules datatypes.JSON

	Requested int `gorm:"not null;default:0"`
	Created   int `gorm:"not null;default:0"`
	Failed    int `gorm:"not null;default:0"`

	CreatedBy string `gorm:"type:varchar(128)"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (b *BlockBatch) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
