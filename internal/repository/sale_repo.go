package repository

import (
	"context"
	"time"

	"stockpos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleFilter is used by the sales listing and by reconciliation.
type SaleFilter struct {
	Status string // empty = any
	Since  *time.Time
	Page   int
	Limit  int
}

type SaleRepository interface {
	CreateHeaderTx(tx *gorm.DB, s *model.Sale) error
	CreateItemTx(tx *gorm.DB, item *model.SaleItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	// FindForUpdateTx locks the sale header row and loads its items.
	FindForUpdateTx(tx *gorm.DB, id uuid.UUID) (*model.Sale, error)
	UpdateStatusTx(tx *gorm.DB, id uuid.UUID, status, paymentStatus string) error
	DeleteTx(tx *gorm.DB, id uuid.UUID) error
	List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error)
}

type saleRepo struct{ db *gorm.DB }

func NewSaleRepository(db *gorm.DB) SaleRepository { return &saleRepo{db: db} }

func (r *saleRepo) CreateHeaderTx(tx *gorm.DB, s *model.Sale) error {
	return tx.Omit("Items").Create(s).Error
}

func (r *saleRepo) CreateItemTx(tx *gorm.DB, item *model.SaleItem) error {
	return tx.Omit("Product").Create(item).Error
}

func (r *saleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Preload("Items.Product").
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) FindForUpdateTx(tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	if err := forUpdate(tx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("sale_id = ?", id).Order("line_no ASC").Find(&s.Items).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *saleRepo) UpdateStatusTx(tx *gorm.DB, id uuid.UUID, status, paymentStatus string) error {
	return tx.Model(&model.Sale{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         status,
		"payment_status": paymentStatus,
		"updated_at":     time.Now(),
	}).Error
}

// DeleteTx removes the sale header and its items. Stock movements are
// kept; the caller is responsible for compensating restores.
func (r *saleRepo) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	if err := tx.Where("sale_id = ?", id).Delete(&model.SaleItem{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&model.Sale{}).Error
}

func (r *saleRepo) List(ctx context.Context, filter SaleFilter) ([]model.Sale, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Sale{})
	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	var sales []model.Sale
	err := q.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Preload("Items.Product").
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&sales).Error
	return sales, total, err
}
