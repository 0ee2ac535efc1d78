package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownColumn = errors.New("unknown column")

	// Слот уже закреплён за другой активной записью (нарушение уникальности slot_claims).
	ErrSlotTaken = errors.New("slot already claimed")

	// Запись изменилась между чтением и условным обновлением.
	ErrStaleRecord = errors.New("record changed concurrently")
)

// isUniqueViolation распознаёт нарушение уникальности. С TranslateError gorm
// возвращает ErrDuplicatedKey; текстовая проверка нужна для соединений без трансляции.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
