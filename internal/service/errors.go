package service

import (
	"errors"
	"fmt"

	"stockpos/internal/repository"

	"github.com/google/uuid"
)

// Error taxonomy of the stock subsystem. Handlers map these to HTTP
// statuses; everything else is an internal error.
var (
	// ErrNotFound: product or sale does not exist, or the product is inactive.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuantity: caller bug, never retried.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInsufficientStock: a reduction would make stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict: lock timeout, deadlock or serialization failure. The whole
	// operation is safe to retry.
	ErrConflict = repository.ErrConflict
	// ErrInvalidSale: header or line validation failed.
	ErrInvalidSale = errors.New("invalid sale")
)

// InsufficientStockError carries what the cashier needs to see.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func invalidSale(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSale, fmt.Sprintf(format, args...))
}
