package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Тип события аудита.
type EventType string

const (
	EventTypeBookingSubmitted EventType = "booking_submitted"
	EventTypeBookingApproved  EventType = "booking_approved"
	EventTypeBookingCancelled EventType = "booking_cancelled"
	EventTypePaymentInitiated EventType = "payment_initiated"
	EventTypePaymentRecorded  EventType = "payment_recorded"
	EventTypeBlockCreated     EventType = "block_created"
	EventTypeBlockRestored    EventType = "block_restored"
	EventTypeBlockDeleted     EventType = "block_deleted"
)

// events: события аудита
type Event struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EventType EventType `gorm:"type:varchar(64);not null;index"`

	CreatedAt time.Time `gorm:"not null;index"`

	ActorID   string     `gorm:"type:varchar(128);index"`
	BookingID *uuid.UUID `gorm:"type:uuid;index"`

	FromStatus BookingStatus `gorm:"type:varchar(32)"`
	ToStatus   BookingStatus `gorm:"type:varchar(32)"`

	Details string `gorm:"type:text"`

	// Навигационные поля
	Booking *Booking `gorm:"foreignKey:BookingID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
