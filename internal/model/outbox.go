package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Канал доставки уведомления.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// Вид уведомления.
type NotificationKind string

const (
	NotificationBookingApproved  NotificationKind = "booking_approved"
	NotificationPaymentConfirmed NotificationKind = "payment_confirmed"
	NotificationBookingCancelled NotificationKind = "booking_cancelled"
)

// Содержимое уведомления, хранится в Payload как JSON.
type NotificationPayload struct {
	Kind    NotificationKind `json:"kind"`
	Subject string           `json:"subject,omitempty"`
	Body    string           `json:"body"`
}

// outbox_messages: уведомления, записанные вместе с переходом статуса.
// Доставляются отдельным воркером с повторами.
type OutboxMessage struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	BookingID uuid.UUID `gorm:"type:uuid;not null;index"`
	Channel   Channel   `gorm:"type:varchar(16);not null"`
	Recipient string    `gorm:"type:varchar(255);not null"`
	Payload   datatypes.JSON

	Status        OutboxStatus `gorm:"type:varchar(16);not null;index"`
	Attempts      int          `gorm:"not null;default:0"`
	NextAttemptAt time.Time    `gorm:"not null;index"`
	LastError     string       `gorm:"type:text"`
	SentAt        *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (m *OutboxMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
