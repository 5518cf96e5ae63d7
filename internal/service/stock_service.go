package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/metrics"
	"stockpos/internal/model"
	"stockpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Direction of a stock adjustment.
type Direction string

const (
	DirectionReduce  Direction = "reduce"
	DirectionRestore Direction = "restore"
	DirectionAdjust  Direction = "adjust"
)

// MovementType is the stock_movements.movement_type written for d.
func (d Direction) MovementType() string {
	switch d {
	case DirectionReduce:
		return model.MovementOut
	case DirectionRestore:
		return model.MovementIn
	default:
		return model.MovementAdjust
	}
}

// AdjustmentStatus tells an applied adjustment apart from a guarded no-op.
type AdjustmentStatus string

const (
	StatusApplied AdjustmentStatus = "applied"
	StatusSkipped AdjustmentStatus = "skipped"
)

// Adjustment is one stock change for one (product, reference, line).
// For DirectionAdjust, Quantity is the target stock level; otherwise it is
// the amount to move.
type Adjustment struct {
	ProductID     uuid.UUID
	Quantity      int
	ReferenceID   uuid.UUID
	ReferenceLine int
	Direction     Direction
	Notes         string
	OperatorID    *uuid.UUID
}

// Key is the idempotency key guarding this adjustment.
func (a Adjustment) Key() string {
	return model.MovementKey(a.Direction.MovementType(), a.ProductID, a.ReferenceID, a.ReferenceLine)
}

// AdjustmentResult reports what Apply did.
type AdjustmentResult struct {
	Status        AdjustmentStatus
	ProductID     uuid.UUID
	PreviousStock int
	NewStock      int
	Movement      *model.StockMovement // nil when skipped
}

// StockService is the single entry point for changing quantity-on-hand.
// No other code path writes products.stock_quantity.
type StockService interface {
	// Apply runs inside the caller's transaction. Any error must abort it.
	Apply(ctx context.Context, tx *gorm.DB, adj Adjustment) (*AdjustmentResult, error)
	// AdjustManual is the inventory screen entry point; it owns its transaction.
	AdjustManual(ctx context.Context, operatorID *uuid.UUID, req dto.ManualAdjustmentRequest) (*dto.AdjustmentResponse, error)
}

type stockService struct {
	products  repository.ProductRepository
	movements repository.StockMovementRepository
	txr       *repository.TxRunner
	retries   int
}

func NewStockService(
	products repository.ProductRepository,
	movements repository.StockMovementRepository,
	txr *repository.TxRunner,
	retries int,
) StockService {
	return &stockService{products: products, movements: movements, txr: txr, retries: retries}
}

func (s *stockService) Apply(ctx context.Context, tx *gorm.DB, adj Adjustment) (*AdjustmentResult, error) {
	res, err := s.apply(tx, adj)
	status := "error"
	switch {
	case err == nil:
		status = string(res.Status)
	case errors.Is(err, ErrInsufficientStock):
		status = "insufficient"
	case errors.Is(err, ErrConflict):
		status = "conflict"
	}
	metrics.StockAdjustments.WithLabelValues(string(adj.Direction), status).Inc()
	return res, err
}

func (s *stockService) apply(tx *gorm.DB, adj Adjustment) (*AdjustmentResult, error) {
	if err := validateAdjustment(adj); err != nil {
		return nil, err
	}

	// 1. Exclusive lock on the ledger row. Everything below happens under it.
	p, err := s.products.LockForUpdateTx(tx, adj.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, adj.ProductID)
		}
		return nil, repository.Classify(err)
	}
	if !p.Active && adj.Direction != DirectionRestore {
		return nil, fmt.Errorf("%w: product %s is inactive", ErrNotFound, p.Name)
	}

	// 2. Guard: the same key was already applied, nothing to do.
	key := adj.Key()
	done, err := s.movements.ExistsByKeyTx(tx, key)
	if err != nil {
		return nil, repository.Classify(err)
	}
	if done {
		log.Debug().Str("key", key).Msg("stock adjustment already applied, skipping")
		return &AdjustmentResult{
			Status:        StatusSkipped,
			ProductID:     p.ID,
			PreviousStock: p.StockQuantity,
			NewStock:      p.StockQuantity,
		}, nil
	}

	// 3. Delta and floor check.
	var delta int
	switch adj.Direction {
	case DirectionReduce:
		if p.StockQuantity < adj.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.StockQuantity,
				Requested:   adj.Quantity,
			}
		}
		delta = -adj.Quantity
	case DirectionRestore:
		delta = adj.Quantity
	case DirectionAdjust:
		// A count matching stock still writes a zero-quantity row so a retry
		// of the same key finds it after stock has moved.
		delta = adj.Quantity - p.StockQuantity
	}

	// 4. Ledger mutation.
	newStock := p.StockQuantity
	if delta != 0 {
		newStock, err = s.products.ApplyDeltaTx(tx, p.ID, delta)
		if err != nil {
			if errors.Is(err, repository.ErrNegativeStock) {
				return nil, &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   p.StockQuantity,
					Requested:   -delta,
				}
			}
			return nil, repository.Classify(err)
		}
	}

	// 5. Exactly one movement row.
	mov := &model.StockMovement{
		ProductID:      p.ID,
		MovementType:   adj.Direction.MovementType(),
		Quantity:       abs(delta),
		PreviousStock:  p.StockQuantity,
		NewStock:       newStock,
		ReferenceID:    adj.ReferenceID,
		ReferenceLine:  adj.ReferenceLine,
		IdempotencyKey: key,
		Notes:          adj.Notes,
		OperatorID:     adj.OperatorID,
	}
	if err := s.movements.CreateTx(tx, mov); err != nil {
		return nil, repository.Classify(err)
	}

	return &AdjustmentResult{
		Status:        StatusApplied,
		ProductID:     p.ID,
		PreviousStock: p.StockQuantity,
		NewStock:      newStock,
		Movement:      mov,
	}, nil
}

func validateAdjustment(adj Adjustment) error {
	switch adj.Direction {
	case DirectionReduce, DirectionRestore:
		if adj.Quantity <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidQuantity, adj.Quantity)
		}
	case DirectionAdjust:
		if adj.Quantity < 0 {
			return fmt.Errorf("%w: target stock %d", ErrInvalidQuantity, adj.Quantity)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidQuantity, adj.Direction)
	}
	if adj.ProductID == uuid.Nil || adj.ReferenceID == uuid.Nil {
		return fmt.Errorf("%w: product and reference are required", ErrInvalidQuantity)
	}
	return nil
}

// ── AdjustManual ─────────────────────────────────────────────────────────────

var manualDirections = map[string]Direction{
	model.MovementIn:     DirectionRestore,
	model.MovementOut:    DirectionReduce,
	model.MovementAdjust: DirectionAdjust,
}

func (s *stockService) AdjustManual(ctx context.Context, operatorID *uuid.UUID, req dto.ManualAdjustmentRequest) (*dto.AdjustmentResponse, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("%w: product_id", ErrNotFound)
	}
	dir, ok := manualDirections[req.MovementType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown movement type %q", ErrInvalidQuantity, req.MovementType)
	}

	// A retried request must carry the same request_id to be deduplicated.
	referenceID := uuid.New()
	if req.RequestID != nil {
		if referenceID, err = uuid.Parse(*req.RequestID); err != nil {
			return nil, fmt.Errorf("%w: request_id", ErrInvalidQuantity)
		}
	}

	adj := Adjustment{
		ProductID:   productID,
		Quantity:    req.Quantity,
		ReferenceID: referenceID,
		Direction:   dir,
		Notes:       req.Reason,
		OperatorID:  operatorID,
	}

	var res *AdjustmentResult
	err = withRetry(ctx, s.retries, func() error {
		return s.txr.Run(ctx, func(tx *gorm.DB) error {
			r, err := s.Apply(ctx, tx, adj)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("product_id", productID.String()).
		Str("movement_type", req.MovementType).
		Str("status", string(res.Status)).
		Int("previous_stock", res.PreviousStock).
		Int("new_stock", res.NewStock).
		Msg("manual stock adjustment")

	return adjustmentToResponse(res, referenceID), nil
}

func adjustmentToResponse(r *AdjustmentResult, referenceID uuid.UUID) *dto.AdjustmentResponse {
	resp := &dto.AdjustmentResponse{
		Status:        string(r.Status),
		ProductID:     r.ProductID.String(),
		ReferenceID:   referenceID.String(),
		PreviousStock: r.PreviousStock,
		NewStock:      r.NewStock,
	}
	if r.Movement != nil {
		id := r.Movement.ID.String()
		resp.MovementID = &id
	}
	return resp
}

// withRetry re-runs fn while it fails with ErrConflict, backing off linearly.
func withRetry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrConflict) || attempt >= retries {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("stock conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
