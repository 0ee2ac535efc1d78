package model

import "gorm.io/gorm"

// AutoMigrate выполняет миграцию всех сущностей движка записи.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&BlockBatch{},
		&Booking{},
		&SlotClaim{},
		&Event{},
		&OutboxMessage{},
	)
}
