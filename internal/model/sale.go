package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale statuses.
const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

// Payment statuses.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Sale is the header of one checkout.
// Invariant: FinalAmount = TotalAmount - DiscountAmount.
type Sale struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	CustomerID     *uuid.UUID      `gorm:"type:uuid;index"`
	OperatorID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	FinalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status         string          `gorm:"type:varchar(20);not null;index"`
	PaymentMethod  string          `gorm:"type:varchar(20);not null"`
	PaymentStatus  string          `gorm:"type:varchar(20);not null"`
	Notes          string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time

	Items []SaleItem `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
}

func (s *Sale) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SaleItem is one product line of a sale. LineNo is 1-based and, together
// with the sale id, is the idempotency key of the line's stock reduction.
type SaleItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SaleID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_sale_items_line"`
	LineNo     int             `gorm:"not null;uniqueIndex:idx_sale_items_line"`
	ProductID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity   int             `gorm:"not null"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`

	Product *Product `gorm:"foreignKey:ProductID"`
}

func (i *SaleItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
