package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryService is the read side of the stock ledger.
type InventoryService interface {
	GetStock(ctx context.Context, productID uuid.UUID) (*dto.StockResponse, error)
	ListMovements(ctx context.Context, filter dto.MovementFilter) (*dto.MovementListResponse, error)
	LowStockAlerts(ctx context.Context) ([]dto.LowStockAlertResponse, error)
	Valuation(ctx context.Context) (*dto.ValuationResponse, error)
}

type inventoryService struct {
	products  repository.ProductRepository
	movements repository.StockMovementRepository
}

func NewInventoryService(products repository.ProductRepository, movements repository.StockMovementRepository) InventoryService {
	return &inventoryService{products: products, movements: movements}
}

func (s *inventoryService) GetStock(ctx context.Context, productID uuid.UUID) (*dto.StockResponse, error) {
	p, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: product %s is inactive", ErrNotFound, productID)
	}
	return &dto.StockResponse{
		ProductID:     p.ID.String(),
		Name:          p.Name,
		StockQuantity: p.StockQuantity,
		MinStock:      p.MinStock,
		LowStock:      p.LowStock(),
	}, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, filter dto.MovementFilter) (*dto.MovementListResponse, error) {
	rf := repository.StockMovementFilter{
		MovementType: filter.MovementType,
		Page:         filter.Page,
		Limit:        filter.Limit,
	}
	if filter.ProductID != "" {
		id, err := uuid.Parse(filter.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: product_id", ErrNotFound)
		}
		rf.ProductID = &id
	}
	if filter.ReferenceID != "" {
		id, err := uuid.Parse(filter.ReferenceID)
		if err != nil {
			return nil, fmt.Errorf("%w: reference_id", ErrNotFound)
		}
		rf.ReferenceID = &id
	}

	movements, total, err := s.movements.List(ctx, rf)
	if err != nil {
		return nil, err
	}
	data := make([]dto.MovementResponse, 0, len(movements))
	for _, m := range movements {
		name := ""
		if m.Product != nil {
			name = m.Product.Name
		}
		data = append(data, dto.MovementResponse{
			ID:            m.ID.String(),
			ProductID:     m.ProductID.String(),
			ProductName:   name,
			MovementType:  m.MovementType,
			Quantity:      m.Quantity,
			PreviousStock: m.PreviousStock,
			NewStock:      m.NewStock,
			ReferenceID:   m.ReferenceID.String(),
			ReferenceLine: m.ReferenceLine,
			Notes:         m.Notes,
			CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return &dto.MovementListResponse{Data: data, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// LowStockAlerts lists active products at or below their minimum stock,
// emptiest first.
func (s *inventoryService) LowStockAlerts(ctx context.Context) ([]dto.LowStockAlertResponse, error) {
	products, _, err := s.products.List(ctx, repository.ProductFilter{LowStockOnly: true, Limit: 500})
	if err != nil {
		return nil, err
	}
	alerts := make([]dto.LowStockAlertResponse, 0, len(products))
	for _, p := range products {
		alerts = append(alerts, dto.LowStockAlertResponse{
			ProductID:     p.ID.String(),
			Name:          p.Name,
			StockQuantity: p.StockQuantity,
			MinStock:      p.MinStock,
			Shortfall:     p.MinStock - p.StockQuantity,
		})
	}
	return alerts, nil
}

func (s *inventoryService) Valuation(ctx context.Context) (*dto.ValuationResponse, error) {
	v, err := s.products.Valuation(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.ValuationResponse{
		Products:  v.Products,
		Units:     v.Units,
		CostValue: v.CostValue.Round(2),
		SaleValue: v.SaleValue.Round(2),
	}, nil
}
