package dto

import "github.com/shopspring/decimal"

// ManualAdjustmentRequest is submitted by the inventory screen.
// For "ajuste", Quantity is the counted stock level (may be 0).
type ManualAdjustmentRequest struct {
	ProductID    string  `json:"product_id"    validate:"required,uuid"`
	MovementType string  `json:"movement_type" validate:"required,oneof=entrada saida ajuste"`
	Quantity     int     `json:"quantity"      validate:"min=0"`
	Reason       string  `json:"reason"        validate:"required,min=3,max=500"`
	RequestID    *string `json:"request_id"    validate:"omitempty,uuid"`
}

type AdjustmentResponse struct {
	Status        string  `json:"status"` // applied | skipped
	ProductID     string  `json:"product_id"`
	ReferenceID   string  `json:"reference_id"`
	MovementID    *string `json:"movement_id"`
	PreviousStock int     `json:"previous_stock"`
	NewStock      int     `json:"new_stock"`
}

type StockResponse struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	MinStock      int    `json:"min_stock"`
	LowStock      bool   `json:"low_stock"`
}

// MovementFilter is bound from the query string of GET /v1/inventory/movements.
type MovementFilter struct {
	ProductID    string `form:"product_id"    validate:"omitempty,uuid"`
	ReferenceID  string `form:"reference_id"  validate:"omitempty,uuid"`
	MovementType string `form:"movement_type" validate:"omitempty,oneof=entrada saida ajuste"`
	Page         int    `form:"page,default=1"    validate:"min=1"`
	Limit        int    `form:"limit,default=100" validate:"min=1,max=500"`
}

type MovementResponse struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	MovementType  string `json:"movement_type"`
	Quantity      int    `json:"quantity"`
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
	ReferenceID   string `json:"reference_id"`
	ReferenceLine int    `json:"reference_line"`
	Notes         string `json:"notes"`
	CreatedAt     string `json:"created_at"`
}

type MovementListResponse struct {
	Data  []MovementResponse `json:"data"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

type LowStockAlertResponse struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	MinStock      int    `json:"min_stock"`
	Shortfall     int    `json:"shortfall"`
}

type ValuationResponse struct {
	Products  int64           `json:"products"`
	Units     int64           `json:"units"`
	CostValue decimal.Decimal `json:"cost_value"`
	SaleValue decimal.Decimal `json:"sale_value"`
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

type SaleDrift struct {
	SaleID     string  `json:"sale_id"`
	ProductID  string  `json:"product_id"`
	Expected   int     `json:"expected"`
	Actual     int     `json:"actual"`
	Restored   int     `json:"restored"`
	Rows       int     `json:"rows"`
	Multiplier float64 `json:"multiplier"`
	Status     string  `json:"status"` // over | under | missing | orphan | unrestored
}

type ProductDrift struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	LedgerStock   int    `json:"ledger_stock"`
	ChainBreaks   int    `json:"chain_breaks"`
	Movements     int    `json:"movements"`
}

type ReconciliationReport struct {
	SalesChecked    int            `json:"sales_checked"`
	ProductsChecked int            `json:"products_checked"`
	SaleDrifts      []SaleDrift    `json:"sale_drifts"`
	ProductDrifts   []ProductDrift `json:"product_drifts"`
}

// Clean reports whether no drift was found.
func (r *ReconciliationReport) Clean() bool {
	return len(r.SaleDrifts) == 0 && len(r.ProductDrifts) == 0
}

// LowStockEvent is published after a sale leaves a product at or below its
// minimum stock.
type LowStockEvent struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	MinStock      int    `json:"min_stock"`
	ReferenceID   string `json:"reference_id"`
}
