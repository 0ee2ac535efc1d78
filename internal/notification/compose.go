package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/model"
)

// Compose готовит сообщения outbox для записи: по одному на каждый
// известный контакт (телефон — sms, почта — email). Без контактов — пустой результат.
func Compose(b *model.Booking, kind model.NotificationKind, loc *time.Location, now time.Time) ([]model.OutboxMessage, error) {
	payload := payloadFor(b, kind, loc)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var msgs []model.OutboxMessage
	add := func(ch model.Channel, recipient string) {
		if recipient == "" {
			return
		}
		msgs = append(msgs, model.OutboxMessage{
			BookingID:     b.ID,
			Channel:       ch,
			Recipient:     recipient,
			Payload:       datatypes.JSON(raw),
			Status:        model.OutboxStatusPending,
			NextAttemptAt: now.UTC(),
		})
	}
	add(model.ChannelSMS, b.Contact.Phone)
	add(model.ChannelEmail, b.Contact.Email)

	return msgs, nil
}

func payloadFor(b *model.Booking, kind model.NotificationKind, loc *time.Location) model.NotificationPayload {
	slot := calendar.FormatSlot(calendar.TimeSlot{
		Start:    b.SlotAt,
		Duration: time.Duration(b.DurationMin) * time.Minute,
	}, loc)

	p := model.NotificationPayload{Kind: kind}
	switch kind {
	case model.NotificationBookingApproved:
		p.Subject = "Заявка одобрена"
		p.Body = fmt.Sprintf("Ваша заявка на консультацию (%s) одобрена. Осталось оплатить запись.", slot)
	case model.NotificationPaymentConfirmed:
		p.Subject = "Оплата получена"
		p.Body = fmt.Sprintf("Оплата получена, консультация подтверждена: %s.", slot)
	case model.NotificationBookingCancelled:
		p.Subject = "Запись отменена"
		p.Body = fmt.Sprintf("Ваша запись на консультацию (%s) отменена.", slot)
		if b.CancelReason != "" {
			p.Body += " Причина: " + b.CancelReason + "."
		}
	default:
		p.Body = slot
	}
	return p
}

// Decode восстанавливает сообщение для диспетчера из строки outbox.
func Decode(m model.OutboxMessage) (Message, error) {
	var p model.NotificationPayload
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("decode payload of %s: %w", m.ID, err)
		}
	}
	return Message{
		ID:        m.ID,
		BookingID: m.BookingID,
		Channel:   m.Channel,
		Recipient: m.Recipient,
		Payload:   p,
	}, nil
}
