package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a sellable item. StockQuantity is mutated only through the
// stock adjustment operation; every change leaves a StockMovement behind.
type Product struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SKU           string          `gorm:"column:sku;uniqueIndex;not null"`
	Name          string          `gorm:"index;not null"`
	StockQuantity int             `gorm:"not null;default:0"`
	MinStock      int             `gorm:"not null;default:0"`
	CostPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	SalePrice     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Active        bool            `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Product) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// LowStock reports whether the product sits at or below its threshold.
func (p *Product) LowStock() bool { return p.StockQuantity <= p.MinStock }
