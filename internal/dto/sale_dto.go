package dto

import "github.com/shopspring/decimal"

// ─── Filter / List ──────────────────────────────────────────────────────────

// SaleFilter is bound from the query string of GET /v1/sales.
type SaleFilter struct {
	Status string `form:"status"` // pending | completed | cancelled | all
	Since  string `form:"since"`  // RFC 3339; empty = no lower bound
	Page   int    `form:"page,default=1"   validate:"min=1"`
	Limit  int    `form:"limit,default=50" validate:"min=1,max=200"`
}

type SaleListResponse struct {
	Data  []SaleResponse `json:"data"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// ─── Request DTOs ────────────────────────────────────────────────────────────

type SaleLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity"   validate:"required,min=1"`
	// UnitPrice overrides the product's sale price when present.
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type RecordSaleRequest struct {
	// ID is optional and client generated; resubmitting the same id returns
	// the stored sale instead of recording it twice.
	ID            *string           `json:"id"             validate:"omitempty,uuid"`
	CustomerID    *string           `json:"customer_id"    validate:"omitempty,uuid"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=dinheiro cartao_credito cartao_debito pix"`
	Discount      decimal.Decimal   `json:"discount"       validate:"min=0"`
	Notes         string            `json:"notes"          validate:"max=500"`
	Lines         []SaleLineRequest `json:"lines"          validate:"required,min=1,dive"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SaleLineResponse struct {
	LineNo      int             `json:"line_no"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	// StockAfter is only set on the response of the call that recorded the sale.
	StockAfter *int `json:"stock_after,omitempty"`
}

type SaleResponse struct {
	ID             string             `json:"id"`
	CustomerID     *string            `json:"customer_id"`
	OperatorID     string             `json:"operator_id"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	FinalAmount    decimal.Decimal    `json:"final_amount"`
	Status         string             `json:"status"`
	PaymentMethod  string             `json:"payment_method"`
	PaymentStatus  string             `json:"payment_status"`
	Lines          []SaleLineResponse `json:"lines"`
	Replayed       bool               `json:"replayed"`
	CreatedAt      string             `json:"created_at"`
}

type DeleteSaleResponse struct {
	ID            string `json:"id"`
	LinesRestored int    `json:"lines_restored"`
	LinesSkipped  int    `json:"lines_skipped"`
}
