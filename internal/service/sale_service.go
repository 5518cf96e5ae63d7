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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LowStockNotifier receives post-commit low-stock events. Delivery is best
// effort and never affects the sale.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, ev dto.LowStockEvent) error
}

type SaleService interface {
	RecordSale(ctx context.Context, operatorID uuid.UUID, req dto.RecordSaleRequest) (*dto.SaleResponse, error)
	CancelSale(ctx context.Context, operatorID uuid.UUID, id uuid.UUID, reason string) (*dto.SaleResponse, error)
	DeleteSale(ctx context.Context, operatorID uuid.UUID, id uuid.UUID) (*dto.DeleteSaleResponse, error)
	GetSale(ctx context.Context, id uuid.UUID) (*dto.SaleResponse, error)
	ListSales(ctx context.Context, filter dto.SaleFilter) (*dto.SaleListResponse, error)
}

type saleService struct {
	repo     repository.SaleRepository
	products repository.ProductRepository
	stock    StockService
	txr      *repository.TxRunner
	notifier LowStockNotifier
	retries  int
}

func NewSaleService(
	repo repository.SaleRepository,
	products repository.ProductRepository,
	stock StockService,
	txr *repository.TxRunner,
	notifier LowStockNotifier,
	retries int,
) SaleService {
	return &saleService{
		repo:     repo,
		products: products,
		stock:    stock,
		txr:      txr,
		notifier: notifier,
		retries:  retries,
	}
}

type saleLine struct {
	productID uuid.UUID
	quantity  int
	unitPrice *decimal.Decimal
}

// ── RecordSale ────────────────────────────────────────────────────────────────
// One transaction for the whole checkout:
//   1. lock every product of the sale, ascending id order
//   2. insert the header (completed)
//   3. per line, in input order: insert the item, then reduce stock through
//      StockService.Apply keyed by (product, sale id, line number)
//   4. commit, or roll back everything on the first failure
// A retried call with the same sale id returns the stored sale.

func (s *saleService) RecordSale(ctx context.Context, operatorID uuid.UUID, req dto.RecordSaleRequest) (*dto.SaleResponse, error) {
	start := time.Now()
	defer func() { metrics.SaleDuration.Observe(time.Since(start).Seconds()) }()

	lines, err := parseLines(req.Lines)
	if err != nil {
		metrics.SalesRecorded.WithLabelValues("failed").Inc()
		return nil, err
	}
	saleID := uuid.New()
	if req.ID != nil {
		if saleID, err = uuid.Parse(*req.ID); err != nil {
			return nil, invalidSale("id is not a uuid")
		}
	}
	var customerID *uuid.UUID
	if req.CustomerID != nil {
		cid, err := uuid.Parse(*req.CustomerID)
		if err != nil {
			return nil, invalidSale("customer_id is not a uuid")
		}
		customerID = &cid
	}

	var (
		sale     *model.Sale
		after    map[int]int
		alerts   []dto.LowStockEvent
		replayed bool
	)
	err = withRetry(ctx, s.retries, func() error {
		replayed = false
		return s.txr.Run(ctx, func(tx *gorm.DB) error {
			// A concurrent twin submission that won the insert shows up here
			// on the retry that follows our conflict.
			if req.ID != nil {
				_, err := s.repo.FindForUpdateTx(tx, saleID)
				if err == nil {
					replayed = true
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return repository.Classify(err)
				}
			}
			var err error
			sale, after, alerts, err = s.recordTx(ctx, tx, saleID, operatorID, customerID, req, lines)
			return err
		})
	})
	if err != nil {
		metrics.SalesRecorded.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("sale_id", saleID.String()).Msg("sale not recorded")
		return nil, err
	}

	if replayed {
		stored, err := s.repo.FindByID(ctx, saleID)
		if err != nil {
			return nil, err
		}
		metrics.SalesRecorded.WithLabelValues("replayed").Inc()
		log.Info().Str("sale_id", saleID.String()).Msg("duplicate sale submission, returning stored sale")
		resp := saleToResponse(stored)
		resp.Replayed = true
		return resp, nil
	}

	metrics.SalesRecorded.WithLabelValues("created").Inc()
	log.Info().
		Str("sale_id", sale.ID.String()).
		Int("lines", len(sale.Items)).
		Str("final_amount", sale.FinalAmount.StringFixed(2)).
		Msg("sale recorded")

	s.publishAlerts(ctx, alerts)

	resp := saleToResponse(sale)
	for i := range resp.Lines {
		if stock, ok := after[resp.Lines[i].LineNo]; ok {
			stock := stock
			resp.Lines[i].StockAfter = &stock
		}
	}
	return resp, nil
}

func (s *saleService) recordTx(
	ctx context.Context,
	tx *gorm.DB,
	saleID, operatorID uuid.UUID,
	customerID *uuid.UUID,
	req dto.RecordSaleRequest,
	lines []saleLine,
) (*model.Sale, map[int]int, []dto.LowStockEvent, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.productID)
	}
	products, err := s.products.LockManyForUpdateTx(tx, ids)
	if err != nil {
		return nil, nil, nil, repository.Classify(err)
	}

	// Resolve prices and totals before writing anything.
	items := make([]model.SaleItem, 0, len(lines))
	total := decimal.Zero
	for i, l := range lines {
		p, ok := products[l.productID]
		if !ok || !p.Active {
			return nil, nil, nil, fmt.Errorf("%w: product %s", ErrNotFound, l.productID)
		}
		price := p.SalePrice
		if l.unitPrice != nil {
			price = *l.unitPrice
		}
		if price.IsNegative() {
			return nil, nil, nil, invalidSale("line %d: negative unit price", i+1)
		}
		lineTotal := price.Mul(decimal.NewFromInt(int64(l.quantity)))
		total = total.Add(lineTotal)
		items = append(items, model.SaleItem{
			SaleID:     saleID,
			LineNo:     i + 1,
			ProductID:  l.productID,
			Quantity:   l.quantity,
			UnitPrice:  price,
			TotalPrice: lineTotal,
		})
	}
	if req.Discount.IsNegative() || req.Discount.GreaterThan(total) {
		return nil, nil, nil, invalidSale("discount %s outside [0, %s]", req.Discount.StringFixed(2), total.StringFixed(2))
	}

	sale := &model.Sale{
		ID:             saleID,
		CustomerID:     customerID,
		OperatorID:     operatorID,
		TotalAmount:    total,
		DiscountAmount: req.Discount,
		FinalAmount:    total.Sub(req.Discount),
		Status:         model.SaleStatusCompleted,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  model.PaymentStatusPaid,
		Notes:          req.Notes,
	}
	if err := s.repo.CreateHeaderTx(tx, sale); err != nil {
		return nil, nil, nil, repository.Classify(err)
	}

	after := make(map[int]int, len(items))
	var alerts []dto.LowStockEvent
	for i := range items {
		item := &items[i]
		if err := s.repo.CreateItemTx(tx, item); err != nil {
			return nil, nil, nil, repository.Classify(err)
		}
		res, err := s.stock.Apply(ctx, tx, Adjustment{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			ReferenceID:   saleID,
			ReferenceLine: item.LineNo,
			Direction:     DirectionReduce,
			Notes:         fmt.Sprintf("venda %s linha %d", saleID, item.LineNo),
			OperatorID:    &operatorID,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		// The header is new, so an existing reduction belongs to a sale that
		// was deleted under the same id.
		if res.Status == StatusSkipped {
			return nil, nil, nil, invalidSale("sale id %s was already used", saleID)
		}
		after[item.LineNo] = res.NewStock

		p := products[item.ProductID]
		p.StockQuantity = res.NewStock
		item.Product = p
		if res.Status == StatusApplied && res.NewStock <= p.MinStock {
			alerts = append(alerts, dto.LowStockEvent{
				ProductID:     p.ID.String(),
				Name:          p.Name,
				StockQuantity: res.NewStock,
				MinStock:      p.MinStock,
				ReferenceID:   saleID.String(),
			})
		}
	}
	sale.Items = items
	return sale, after, alerts, nil
}

func parseLines(reqLines []dto.SaleLineRequest) ([]saleLine, error) {
	if len(reqLines) == 0 {
		return nil, invalidSale("a sale needs at least one line")
	}
	lines := make([]saleLine, 0, len(reqLines))
	for i, l := range reqLines {
		pid, err := uuid.Parse(l.ProductID)
		if err != nil {
			return nil, invalidSale("line %d: product_id is not a uuid", i+1)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity %d", ErrInvalidQuantity, i+1, l.Quantity)
		}
		lines = append(lines, saleLine{productID: pid, quantity: l.Quantity, unitPrice: l.UnitPrice})
	}
	return lines, nil
}

func (s *saleService) publishAlerts(ctx context.Context, alerts []dto.LowStockEvent) {
	if s.notifier == nil {
		return
	}
	for _, ev := range alerts {
		if err := s.notifier.NotifyLowStock(ctx, ev); err != nil {
			log.Warn().Err(err).Str("product_id", ev.ProductID).Msg("low stock alert not enqueued")
		}
	}
}

// ── CancelSale ────────────────────────────────────────────────────────────────

// CancelSale moves a completed sale to cancelled and restores every line
// through StockService. Cancelling an already cancelled sale is a no-op.
func (s *saleService) CancelSale(ctx context.Context, operatorID uuid.UUID, id uuid.UUID, reason string) (*dto.SaleResponse, error) {
	err := withRetry(ctx, s.retries, func() error {
		return s.txr.Run(ctx, func(tx *gorm.DB) error {
			sale, err := s.lockSale(tx, id)
			if err != nil {
				return err
			}
			switch sale.Status {
			case model.SaleStatusCancelled:
				return nil
			case model.SaleStatusCompleted:
			default:
				return invalidSale("sale %s is %s and cannot be cancelled", id, sale.Status)
			}
			if _, _, err := s.restoreLines(ctx, tx, sale, operatorID, "cancelamento: "+reason); err != nil {
				return err
			}
			return s.repo.UpdateStatusTx(tx, id, model.SaleStatusCancelled, model.PaymentStatusRefunded)
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("sale_id", id.String()).Str("reason", reason).Msg("sale cancelled")
	return s.GetSale(ctx, id)
}

// ── DeleteSale ────────────────────────────────────────────────────────────────

// DeleteSale removes a sale and its items. A completed sale has its stock
// restored first, in the same transaction; a cancelled one was already
// restored by CancelSale. Movements stay in the log.
func (s *saleService) DeleteSale(ctx context.Context, operatorID uuid.UUID, id uuid.UUID) (*dto.DeleteSaleResponse, error) {
	resp := &dto.DeleteSaleResponse{ID: id.String()}
	err := withRetry(ctx, s.retries, func() error {
		resp.LinesRestored, resp.LinesSkipped = 0, 0
		return s.txr.Run(ctx, func(tx *gorm.DB) error {
			sale, err := s.lockSale(tx, id)
			if err != nil {
				return err
			}
			if sale.Status == model.SaleStatusCompleted {
				restored, skipped, err := s.restoreLines(ctx, tx, sale, operatorID, "exclusão da venda")
				if err != nil {
					return err
				}
				resp.LinesRestored, resp.LinesSkipped = restored, skipped
			} else {
				resp.LinesSkipped = len(sale.Items)
			}
			return s.repo.DeleteTx(tx, id)
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("sale_id", id.String()).
		Int("lines_restored", resp.LinesRestored).
		Msg("sale deleted")
	return resp, nil
}

func (s *saleService) lockSale(tx *gorm.DB, id uuid.UUID) (*model.Sale, error) {
	sale, err := s.repo.FindForUpdateTx(tx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
		}
		return nil, repository.Classify(err)
	}
	return sale, nil
}

func (s *saleService) restoreLines(ctx context.Context, tx *gorm.DB, sale *model.Sale, operatorID uuid.UUID, notes string) (restored, skipped int, err error) {
	// Lock order must match RecordSale's to avoid deadlocks with checkouts.
	ids := make([]uuid.UUID, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	if _, err := s.products.LockManyForUpdateTx(tx, ids); err != nil {
		return 0, 0, repository.Classify(err)
	}

	for _, item := range sale.Items {
		res, err := s.stock.Apply(ctx, tx, Adjustment{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			ReferenceID:   sale.ID,
			ReferenceLine: item.LineNo,
			Direction:     DirectionRestore,
			Notes:         notes,
			OperatorID:    &operatorID,
		})
		if err != nil {
			return 0, 0, err
		}
		if res.Status == StatusApplied {
			restored++
		} else {
			skipped++
		}
	}
	return restored, skipped, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, id uuid.UUID) (*dto.SaleResponse, error) {
	sale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
		}
		return nil, err
	}
	return saleToResponse(sale), nil
}

func (s *saleService) ListSales(ctx context.Context, filter dto.SaleFilter) (*dto.SaleListResponse, error) {
	rf := repository.SaleFilter{Status: filter.Status, Page: filter.Page, Limit: filter.Limit}
	if filter.Since != "" {
		since, err := time.Parse(time.RFC3339, filter.Since)
		if err != nil {
			return nil, invalidSale("since must be RFC 3339")
		}
		rf.Since = &since
	}
	sales, total, err := s.repo.List(ctx, rf)
	if err != nil {
		return nil, err
	}
	data := make([]dto.SaleResponse, 0, len(sales))
	for i := range sales {
		data = append(data, *saleToResponse(&sales[i]))
	}
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	return &dto.SaleListResponse{Data: data, Total: total, Page: page, Limit: limit}, nil
}

func saleToResponse(s *model.Sale) *dto.SaleResponse {
	lines := make([]dto.SaleLineResponse, 0, len(s.Items))
	for _, item := range s.Items {
		name := ""
		if item.Product != nil {
			name = item.Product.Name
		}
		lines = append(lines, dto.SaleLineResponse{
			LineNo:      item.LineNo,
			ProductID:   item.ProductID.String(),
			ProductName: name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	var customerID *string
	if s.CustomerID != nil {
		cid := s.CustomerID.String()
		customerID = &cid
	}
	return &dto.SaleResponse{
		ID:             s.ID.String(),
		CustomerID:     customerID,
		OperatorID:     s.OperatorID.String(),
		TotalAmount:    s.TotalAmount,
		DiscountAmount: s.DiscountAmount,
		FinalAmount:    s.FinalAmount,
		Status:         s.Status,
		PaymentMethod:  s.PaymentMethod,
		PaymentStatus:  s.PaymentStatus,
		Lines:          lines,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
