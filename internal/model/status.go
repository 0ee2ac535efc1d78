package model

import (
	"errors"
	"fmt"
)

// Статус записи на консультацию. Единый закрытый набор значений для всех потребителей.
type BookingStatus string

const (
	// Клиентская ветка.
	StatusAwaitingAdminResponse BookingStatus = "AwaitingAdminResponse"
	StatusPendingPayment        BookingStatus = "PendingPayment"
	StatusBookingApproved       BookingStatus = "BookingApproved"
	StatusCancelled             BookingStatus = "Cancelled"

	// Ветка административных блокировок.
	StatusAdminCancelledSlot BookingStatus = "AdminCancelledSlot"
	StatusRestored           BookingStatus = "Restored"
)

var ErrUnknownStatus = errors.New("unknown booking status")

var allStatuses = []BookingStatus{
	StatusAwaitingAdminResponse,
	StatusPendingPayment,
	StatusBookingApproved,
	StatusCancelled,
	StatusAdminCancelledSlot,
	StatusRestored,
}

// Допустимые переходы. Удаление блокировки — флаг Deleted, а не статус.
var transitions = map[BookingStatus][]BookingStatus{
	StatusAwaitingAdminResponse: {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment:        {StatusBookingApproved, StatusCancelled},
	StatusBookingApproved:       {StatusCancelled},
	StatusAdminCancelledSlot:    {StatusRestored},
}

// ParseBookingStatus превращает строку из хранилища в статус.
func ParseBookingStatus(s string) (BookingStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s BookingStatus) Valid() bool {
	_, err := ParseBookingStatus(string(s))
	return err == nil
}

func (s BookingStatus) IsClientPath() bool {
	switch s {
	case StatusAwaitingAdminResponse, StatusPendingPayment, StatusBookingApproved, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s BookingStatus) IsBlockLane() bool {
	return s == StatusAdminCancelledSlot || s == StatusRestored
}

// CanTransitionTo проверяет переход по таблице transitions.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Политика удаления административной блокировки.
type BlockDeletePolicy string

const (
	// Удалённая блокировка продолжает занимать слот (флаг IsAdminBlock не сбрасывается).
	DeletePolicyKeepOccupied BlockDeletePolicy = "keep_occupied"
	// Удаление освобождает слот.
	DeletePolicyReleaseSlot BlockDeletePolicy = "release_slot"
)

var ErrUnknownDeletePolicy = errors.New("unknown block delete policy")

func ParseBlockDeletePolicy(s string) (BlockDeletePolicy, error) {
	switch BlockDeletePolicy(s) {
	case "", DeletePolicyKeepOccupied:
		return DeletePolicyKeepOccupied, nil
	case DeletePolicyReleaseSlot:
		return DeletePolicyReleaseSlot, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDeletePolicy, s)
	}
}
