package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Movement types, as stored in stock_movements.movement_type.
const (
	MovementIn     = "entrada"
	MovementOut    = "saida"
	MovementAdjust = "ajuste"
)

// StockMovement is an append-only audit record of one quantity change.
// Quantity is always the magnitude; the type carries the sign.
// IdempotencyKey is unique: at most one movement per (type, product,
// reference, line).
type StockMovement struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null;index"`
	MovementType   string    `gorm:"type:varchar(10);not null"`
	Quantity       int       `gorm:"not null"`
	PreviousStock  int       `gorm:"not null"`
	NewStock       int       `gorm:"not null"`
	ReferenceID    uuid.UUID `gorm:"type:uuid;not null;index"`
	ReferenceLine  int       `gorm:"not null;default:0"`
	IdempotencyKey string    `gorm:"type:varchar(160);uniqueIndex;not null"`
	Notes          string
	OperatorID     *uuid.UUID `gorm:"type:uuid"`
	CreatedAt      time.Time  `gorm:"index"`

	Product *Product `gorm:"foreignKey:ProductID"`
}

func (m *StockMovement) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MovementKey builds the idempotency key for a movement.
func MovementKey(movementType string, productID, referenceID uuid.UUID, line int) string {
	return fmt.Sprintf("%s:%s:%s:%d", movementType, productID, referenceID, line)
}
