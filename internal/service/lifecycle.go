package service

import (
	"fmt"
	"time"

	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/notification"
	"github.com/Leganyst/consultation-slots/internal/payment"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// Причина отмены неоплаченной записи по истечении срока.
const ReasonPaymentExpired = "payment_expired"

// lifecycle строит изменения записи для каждого перехода. Проверки статуса
// выполняются по уже прочитанной записи внутри транзакции Update.
type lifecycle struct {
	policy model.BlockDeletePolicy
	loc    *time.Location
	now    func() time.Time
}

func transitionErr(b *model.Booking, to model.BookingStatus) error {
	return fmt.Errorf("%w: %s -> %s (booking %s)", ErrInvalidTransition, b.Status, to, b.ID)
}

func (l lifecycle) event(t model.EventType, actor Actor, from, to model.BookingStatus, details string) *model.Event {
	return &model.Event{
		EventType:  t,
		CreatedAt:  l.now(),
		ActorID:    actor.ID,
		FromStatus: from,
		ToStatus:   to,
		Details:    details,
	}
}

func (l lifecycle) outbox(b *model.Booking, kind model.NotificationKind) ([]model.OutboxMessage, error) {
	return notification.Compose(b, kind, l.loc, l.now())
}

// requireClientBooking отсекает блокировки и удалённые записи.
func requireClientBooking(b *model.Booking, to model.BookingStatus) error {
	if b.IsAdminBlock || b.Deleted || !b.Status.IsClientPath() {
		return transitionErr(b, to)
	}
	if !b.Status.CanTransitionTo(to) {
		return transitionErr(b, to)
	}
	return nil
}

// approve: AwaitingAdminResponse -> PendingPayment, уведомление клиенту через outbox.
func (l lifecycle) approve(actor Actor) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		to := model.StatusPendingPayment
		if err := requireClientBooking(b, to); err != nil {
			return nil, err
		}

		now := l.now()
		next := *b
		next.Status = to
		msgs, err := l.outbox(&next, model.NotificationBookingApproved)
		if err != nil {
			return nil, err
		}

		return &repository.Mutation{
			Fields: map[string]any{
				"status":      to,
				"approved_at": now,
			},
			Event:  l.event(model.EventTypeBookingApproved, actor, b.Status, to, ""),
			Outbox: msgs,
		}, nil
	}
}

// cancel: любая активная клиентская запись -> Cancelled, слот освобождается.
func (l lifecycle) cancel(actor Actor, reason string) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		to := model.StatusCancelled
		if err := requireClientBooking(b, to); err != nil {
			return nil, err
		}

		next := *b
		next.Status = to
		next.CancelReason = reason
		msgs, err := l.outbox(&next, model.NotificationBookingCancelled)
		if err != nil {
			return nil, err
		}

		return &repository.Mutation{
			Fields: map[string]any{
				"status":        to,
				"cancel_reason": reason,
			},
			ReleaseClaim: true,
			Event:        l.event(model.EventTypeBookingCancelled, actor, b.Status, to, reason),
			Outbox:       msgs,
		}, nil
	}
}

// expire: cancel для неоплаченной записи, у которой истёк срок.
// Повторная проверка нужна: запись могли оплатить после выборки.
func (l lifecycle) expire(approvedBefore time.Time) repository.DecideFunc {
	cancel := l.cancel(System, ReasonPaymentExpired)
	return func(b *model.Booking) (*repository.Mutation, error) {
		if b.Status != model.StatusPendingPayment || b.PaymentStatus {
			return nil, transitionErr(b, model.StatusCancelled)
		}
		if b.ApprovedAt == nil || !b.ApprovedAt.Before(approvedBefore) {
			return nil, transitionErr(b, model.StatusCancelled)
		}
		return cancel(b)
	}
}

// initiatePayment сохраняет идентификатор транзакции, выданный шлюзом.
func (l lifecycle) initiatePayment(txID string) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		if b.IsAdminBlock || b.Deleted || b.Status != model.StatusPendingPayment || b.PaymentStatus {
			return nil, fmt.Errorf("%w: payment cannot be initiated in status %s", ErrInvalidTransition, b.Status)
		}
		if b.PaymentTransactionID != nil && *b.PaymentTransactionID == txID {
			return nil, nil
		}
		return &repository.Mutation{
			Fields: map[string]any{"payment_transaction_id": txID},
			Event:  l.event(model.EventTypePaymentInitiated, Actor{ID: "payment"}, b.Status, b.Status, txID),
		}, nil
	}
}

// recordPayment сохраняет результат платежа. Успех переводит PendingPayment в BookingApproved.
// Результат принимается только для сохранённой транзакции; повтор того же успеха ничего не меняет.
// Успешный платёж по отменённой записи сохраняется без смены статуса и требует возврата.
func (l lifecycle) recordPayment(res payment.Result) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		if b.IsAdminBlock || b.Deleted {
			return nil, transitionErr(b, model.StatusBookingApproved)
		}
		stored := b.PaymentTransactionID
		if stored != nil && *stored != res.TransactionID {
			return nil, fmt.Errorf("%w: booking %s expects transaction %s, got %s",
				ErrInvalidTransition, b.ID, *stored, res.TransactionID)
		}
		if b.PaymentStatus {
			return nil, nil
		}

		at := res.StatusDate.UTC()
		if res.StatusDate.IsZero() {
			at = l.now()
		}
		fields := map[string]any{
			"payment_transaction_id": res.TransactionID,
			"payment_status_at":      at,
		}

		if !res.Success {
			// статус не меняется, фиксируем только попытку
			if b.Status != model.StatusPendingPayment {
				return nil, fmt.Errorf("%w: payment result in status %s", ErrInvalidTransition, b.Status)
			}
			return &repository.Mutation{
				Fields: fields,
				Event:  l.event(model.EventTypePaymentRecorded, Actor{ID: "payment"}, b.Status, b.Status, "failed "+res.TransactionID),
			}, nil
		}

		if b.Status == model.StatusCancelled && stored != nil {
			fields["payment_status"] = true
			return &repository.Mutation{
				Fields: fields,
				Event:  l.event(model.EventTypePaymentRecorded, Actor{ID: "payment"}, b.Status, b.Status, "refund_required "+res.TransactionID),
			}, nil
		}

		to := model.StatusBookingApproved
		if err := requireClientBooking(b, to); err != nil {
			return nil, err
		}

		next := *b
		next.Status = to
		next.PaymentStatus = true
		msgs, err := l.outbox(&next, model.NotificationPaymentConfirmed)
		if err != nil {
			return nil, err
		}

		fields["status"] = to
		fields["payment_status"] = true
		return &repository.Mutation{
			Fields: fields,
			Event:  l.event(model.EventTypePaymentRecorded, Actor{ID: "payment"}, b.Status, to, res.TransactionID),
			Outbox: msgs,
		}, nil
	}
}

func requireActiveBlock(b *model.Booking, to model.BookingStatus) error {
	if !b.IsAdminBlock || b.Deleted || b.Status != model.StatusAdminCancelledSlot {
		return transitionErr(b, to)
	}
	return nil
}

// restore: AdminCancelledSlot -> Restored, флаг блокировки снимается, слот освобождается.
func (l lifecycle) restore(actor Actor) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		to := model.StatusRestored
		if err := requireActiveBlock(b, to); err != nil {
			return nil, err
		}
		return &repository.Mutation{
			Fields: map[string]any{
				"status":         to,
				"is_admin_block": false,
			},
			ReleaseClaim: true,
			Event:        l.event(model.EventTypeBlockRestored, actor, b.Status, to, ""),
		}, nil
	}
}

// deleteBlock ставит deleted = true и не трогает IsAdminBlock.
// Освобождается ли слот, решает политика удаления.
func (l lifecycle) deleteBlock(actor Actor) repository.DecideFunc {
	return func(b *model.Booking) (*repository.Mutation, error) {
		if err := requireActiveBlock(b, b.Status); err != nil {
			return nil, err
		}
		release := l.policy == model.DeletePolicyReleaseSlot
		return &repository.Mutation{
			Fields:       map[string]any{"deleted": true},
			ReleaseClaim: release,
			Event:        l.event(model.EventTypeBlockDeleted, actor, b.Status, b.Status, string(l.policy)),
		}, nil
	}
}
