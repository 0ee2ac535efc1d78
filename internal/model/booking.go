package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Контактные данные клиента. У административных блокировок пустые.
type Contact struct {
	Name  string `gorm:"type:varchar(255)" validate:"required,max=255"`
	Email string `gorm:"type:varchar(255)" validate:"omitempty,email,max=255"`
	Phone string `gorm:"type:varchar(32)" validate:"omitempty,e164"`
}

func (c Contact) IsEmpty() bool {
	return c.Name == "" && c.Email == "" && c.Phone == ""
}

// bookings: заявки клиентов и административные блокировки слотов.
type Booking struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Начало слота в UTC, округлённое до минуты, и его канонический ключ.
	SlotAt      time.Time `gorm:"not null;index"`
	SlotKey     string    `gorm:"type:varchar(32);not null;index"`
	DurationMin int       `gorm:"not null"`

	Contact          Contact `gorm:"embedded;embeddedPrefix:contact_"`
	ConsultationType string  `gorm:"type:varchar(128)"`
	Description      string  `gorm:"type:text"`

	Status BookingStatus `gorm:"type:varchar(32);not null;index"`

	PaymentStatus        bool    `gorm:"not null;default:false"`
	PaymentTransactionID *string `gorm:"type:varchar(128);uniqueIndex"`
	PaymentStatusAt      *time.Time

	IsAdminBlock bool `gorm:"not null;default:false;index"`
	Deleted      bool `gorm:"not null;default:false;index"`

	ApprovedAt   *time.Time
	CancelReason string `gorm:"type:text"`

	BlockBatchID *uuid.UUID `gorm:"type:uuid;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	BlockBatch *BlockBatch `gorm:"foreignKey:BlockBatchID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (b *Booking) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Occupies сообщает, входит ли слот записи в множество занятых.
// Восстановленные блокировки и отменённые заявки слот не занимают.
// Удалённая запись занимает слот только если это блокировка и политика KeepOccupied.
func (b *Booking) Occupies(policy BlockDeletePolicy) bool {
	switch b.Status {
	case StatusRestored, StatusCancelled:
		return false
	}
	if b.Deleted {
		return b.IsAdminBlock && policy != DeletePolicyReleaseSlot
	}
	return true
}

// slot_claims: уникальный ключ слота; вставляется в одной транзакции с бронированием.
type SlotClaim struct {
	SlotKey   string    `gorm:"type:varchar(32);primaryKey"`
	BookingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ClaimedAt time.Time `gorm:"not null"`
}
