package repository

import (
	"context"
	"time"

	"stockpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockMovementFilter defines filters for listing stock movements.
type StockMovementFilter struct {
	ProductID    *uuid.UUID
	ReferenceID  *uuid.UUID
	MovementType string
	Since        *time.Time
	Page         int
	Limit        int
}

// MovementTotal is the summed quantity of one movement type for a
// (reference, product) pair.
type MovementTotal struct {
	ReferenceID  uuid.UUID
	ProductID    uuid.UUID
	MovementType string
	Quantity     int
	RowCount     int
}

// StockMovementRepository is the append-only movement log. Its key lookup
// is the idempotency guard: callers must hold the product row lock when
// calling ExistsByKeyTx so the check and the write that follows cannot
// interleave with another attempt on the same key.
type StockMovementRepository interface {
	ExistsByKeyTx(tx *gorm.DB, key string) (bool, error)
	CreateTx(tx *gorm.DB, m *model.StockMovement) error
	List(ctx context.Context, filter StockMovementFilter) ([]model.StockMovement, int64, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.StockMovement, error)
	TotalsByReferences(ctx context.Context, referenceIDs []uuid.UUID) ([]MovementTotal, error)
}

type stockMovementRepo struct{ db *gorm.DB }

func NewStockMovementRepository(db *gorm.DB) StockMovementRepository {
	return &stockMovementRepo{db: db}
}

func (r *stockMovementRepo) ExistsByKeyTx(tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := tx.Model(&model.StockMovement{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

func (r *stockMovementRepo) CreateTx(tx *gorm.DB, m *model.StockMovement) error {
	return tx.Create(m).Error
}

func (r *stockMovementRepo) List(ctx context.Context, filter StockMovementFilter) ([]model.StockMovement, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.StockMovement{})
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	if filter.ReferenceID != nil {
		q = q.Where("reference_id = ?", *filter.ReferenceID)
	}
	if filter.MovementType != "" {
		q = q.Where("movement_type = ?", filter.MovementType)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	var movements []model.StockMovement
	err := q.Preload("Product").
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&movements).Error
	return movements, total, err
}

// ListByProduct returns the full movement chain of a product, oldest first.
func (r *stockMovementRepo) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.StockMovement, error) {
	var movements []model.StockMovement
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC, id ASC").
		Find(&movements).Error
	return movements, err
}

func (r *stockMovementRepo) TotalsByReferences(ctx context.Context, referenceIDs []uuid.UUID) ([]MovementTotal, error) {
	var totals []MovementTotal
	if len(referenceIDs) == 0 {
		return totals, nil
	}
	err := r.db.WithContext(ctx).Model(&model.StockMovement{}).
		Select("reference_id, product_id, movement_type, SUM(quantity) AS quantity, COUNT(*) AS row_count").
		Where("reference_id IN ?", referenceIDs).
		Group("reference_id, product_id, movement_type").
		Scan(&totals).Error
	return totals, err
}
