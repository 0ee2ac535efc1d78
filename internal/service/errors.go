package service

import (
	"errors"
	"fmt"

	"github.com/Leganyst/consultation-slots/internal/repository"
)

var (
	// Слот занят: отказ ConflictGuard или нарушение уникальности в хранилище.
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("booking not found")
	// Платёж прошёл, но запись уже отменена: результат сохранён, нужен возврат.
	ErrRefundRequired = errors.New("payment captured for cancelled booking")
)

// ValidationError: некорректные или отсутствующие поля, обнаруженные до записи.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// PersistenceError: сбой чтения или записи в хранилище. Движок не повторяет
// такие операции сам, ошибка уходит вызывающему.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// storageErr переводит ошибки репозитория в ошибки сервиса. Доменные ошибки,
// возвращённые из решающих функций, проходят без изменений.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrSlotTaken):
		return ErrSlotUnavailable
	case errors.Is(err, repository.ErrStaleRecord):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidActor):
		return err
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
