package repository

import (
	"context"
	"errors"
	"sort"

	"stockpos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductFilter narrows product listings for reporting.
type ProductFilter struct {
	LowStockOnly bool
	IncludeAll   bool // include inactive products
	Page         int
	Limit        int
}

// Valuation aggregates the value of stock on hand.
type Valuation struct {
	Products  int64
	Units     int64
	CostValue decimal.Decimal
	SaleValue decimal.Decimal
}

// ProductRepository is the stock ledger: the authoritative quantity-on-hand
// per product. Methods ending in Tx must run inside a transaction.
type ProductRepository interface {
	Create(ctx context.Context, p *model.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// GetStock returns quantity-on-hand of an active product.
	GetStock(ctx context.Context, id uuid.UUID) (int, error)
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error)
	Valuation(ctx context.Context) (*Valuation, error)

	// LockForUpdateTx reads the product row and holds an exclusive row lock
	// until tx ends.
	LockForUpdateTx(tx *gorm.DB, id uuid.UUID) (*model.Product, error)
	// LockManyForUpdateTx locks several rows in ascending id order.
	LockManyForUpdateTx(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error)
	// ApplyDeltaTx adds delta to stock_quantity and returns the new value.
	// A negative delta that would drop below zero returns ErrNegativeStock.
	ApplyDeltaTx(tx *gorm.DB, id uuid.UUID, delta int) (int, error)
}

type productRepo struct{ db *gorm.DB }

func NewProductRepository(db *gorm.DB) ProductRepository { return &productRepo{db: db} }

func (r *productRepo) Create(ctx context.Context, p *model.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *productRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) GetStock(ctx context.Context, id uuid.UUID) (int, error) {
	var qty []int
	err := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND active = ?", id, true).
		Pluck("stock_quantity", &qty).Error
	if err != nil {
		return 0, err
	}
	if len(qty) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return qty[0], nil
}

func (r *productRepo) List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Product{})
	if !filter.IncludeAll {
		q = q.Where("active = ?", true)
	}
	if filter.LowStockOnly {
		q = q.Where("stock_quantity <= min_stock")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	var products []model.Product
	err := q.Order("stock_quantity ASC, name ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&products).Error
	return products, total, err
}

func (r *productRepo) Valuation(ctx context.Context) (*Valuation, error) {
	var products []model.Product
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Select("id", "stock_quantity", "cost_price", "sale_price").
		Find(&products).Error; err != nil {
		return nil, err
	}
	v := &Valuation{CostValue: decimal.Zero, SaleValue: decimal.Zero}
	for _, p := range products {
		qty := decimal.NewFromInt(int64(p.StockQuantity))
		v.Products++
		v.Units += int64(p.StockQuantity)
		v.CostValue = v.CostValue.Add(p.CostPrice.Mul(qty))
		v.SaleValue = v.SaleValue.Add(p.SalePrice.Mul(qty))
	}
	return v, nil
}

func (r *productRepo) LockForUpdateTx(tx *gorm.DB, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	if err := forUpdate(tx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) LockManyForUpdateTx(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]*model.Product, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	locked := make(map[uuid.UUID]*model.Product, len(sorted))
	// One row at a time: a single IN (...) FOR UPDATE does not promise
	// lock acquisition order.
	for _, id := range sorted {
		if _, seen := locked[id]; seen {
			continue
		}
		p, err := r.LockForUpdateTx(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		locked[id] = p
	}
	return locked, nil
}

func (r *productRepo) ApplyDeltaTx(tx *gorm.DB, id uuid.UUID, delta int) (int, error) {
	res := tx.Model(&model.Product{}).
		Where("id = ? AND stock_quantity + ? >= 0", id, delta).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&model.Product{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, gorm.ErrRecordNotFound
		}
		return 0, ErrNegativeStock
	}

	var qty []int
	if err := tx.Model(&model.Product{}).Where("id = ?", id).
		Pluck("stock_quantity", &qty).Error; err != nil {
		return 0, err
	}
	if len(qty) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return qty[0], nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return page, limit
}
