package service

import (
	"context"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/model"
	"stockpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sale drift statuses.
const (
	DriftOver       = "over"       // more reduced than sold (double decrement)
	DriftUnder      = "under"      // less reduced than sold
	DriftMissing    = "missing"    // no reduction at all
	DriftOrphan     = "orphan"     // reduction for a product not on the sale
	DriftUnrestored = "unrestored" // cancelled sale whose stock did not come back
)

const reconcilePageSize = 500

// Reconciler compares the sales table, the movement log and the ledger.
// It only reads; fixing drift is an operator decision.
type Reconciler interface {
	CheckSales(ctx context.Context, since time.Time) (int, []dto.SaleDrift, error)
	CheckProducts(ctx context.Context) (int, []dto.ProductDrift, error)
	Run(ctx context.Context, since time.Time) (*dto.ReconciliationReport, error)
}

type reconciler struct {
	sales     repository.SaleRepository
	products  repository.ProductRepository
	movements repository.StockMovementRepository
}

func NewReconciler(
	sales repository.SaleRepository,
	products repository.ProductRepository,
	movements repository.StockMovementRepository,
) Reconciler {
	return &reconciler{sales: sales, products: products, movements: movements}
}

func (r *reconciler) Run(ctx context.Context, since time.Time) (*dto.ReconciliationReport, error) {
	report := &dto.ReconciliationReport{}
	var err error
	if report.SalesChecked, report.SaleDrifts, err = r.CheckSales(ctx, since); err != nil {
		return nil, err
	}
	if report.ProductsChecked, report.ProductDrifts, err = r.CheckProducts(ctx); err != nil {
		return nil, err
	}
	log.Info().
		Int("sales_checked", report.SalesChecked).
		Int("sale_drifts", len(report.SaleDrifts)).
		Int("products_checked", report.ProductsChecked).
		Int("product_drifts", len(report.ProductDrifts)).
		Msg("reconciliation finished")
	return report, nil
}

type saleProductKey struct {
	sale    uuid.UUID
	product uuid.UUID
}

// CheckSales compares, per sale and product, the quantity sold with the
// quantity the movement log reduced. The multiplier is actual / expected;
// anything other than 1 is drift.
func (r *reconciler) CheckSales(ctx context.Context, since time.Time) (int, []dto.SaleDrift, error) {
	drifts := []dto.SaleDrift{}
	checked := 0
	for page := 1; ; page++ {
		sales, _, err := r.sales.List(ctx, repository.SaleFilter{
			Since: &since,
			Page:  page,
			Limit: reconcilePageSize,
		})
		if err != nil {
			return checked, nil, err
		}
		if len(sales) == 0 {
			break
		}
		pageDrifts, err := r.checkSalePage(ctx, sales)
		if err != nil {
			return checked, nil, err
		}
		drifts = append(drifts, pageDrifts...)
		checked += len(sales)
		if len(sales) < reconcilePageSize {
			break
		}
	}
	return checked, drifts, nil
}

func (r *reconciler) checkSalePage(ctx context.Context, sales []model.Sale) ([]dto.SaleDrift, error) {
	ids := make([]uuid.UUID, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.ID)
	}
	totals, err := r.movements.TotalsByReferences(ctx, ids)
	if err != nil {
		return nil, err
	}

	reduced := map[saleProductKey]repository.MovementTotal{}
	restored := map[saleProductKey]int{}
	for _, t := range totals {
		k := saleProductKey{t.ReferenceID, t.ProductID}
		switch t.MovementType {
		case model.MovementOut:
			reduced[k] = t
		case model.MovementIn:
			restored[k] = t.Quantity
		}
	}

	var drifts []dto.SaleDrift
	for _, s := range sales {
		expected := map[uuid.UUID]int{}
		var order []uuid.UUID
		for _, item := range s.Items {
			if _, ok := expected[item.ProductID]; !ok {
				order = append(order, item.ProductID)
			}
			expected[item.ProductID] += item.Quantity
		}

		for _, pid := range order {
			k := saleProductKey{s.ID, pid}
			out := reduced[k]
			d := dto.SaleDrift{
				SaleID:    s.ID.String(),
				ProductID: pid.String(),
				Expected:  expected[pid],
				Actual:    out.Quantity,
				Restored:  restored[k],
				Rows:      out.RowCount,
			}
			if d.Expected > 0 {
				d.Multiplier = float64(d.Actual) / float64(d.Expected)
			}
			switch {
			case d.Actual == 0:
				d.Status = DriftMissing
			case d.Actual > d.Expected:
				d.Status = DriftOver
			case d.Actual < d.Expected:
				d.Status = DriftUnder
			case s.Status == model.SaleStatusCancelled && d.Restored != d.Actual:
				d.Status = DriftUnrestored
			default:
				continue
			}
			drifts = append(drifts, d)
		}

		for k, out := range reduced {
			if k.sale != s.ID {
				continue
			}
			if _, onSale := expected[k.product]; onSale {
				continue
			}
			drifts = append(drifts, dto.SaleDrift{
				SaleID:    s.ID.String(),
				ProductID: k.product.String(),
				Actual:    out.Quantity,
				Restored:  restored[k],
				Rows:      out.RowCount,
				Status:    DriftOrphan,
			})
		}
	}
	return drifts, nil
}

// CheckProducts replays each product's movement chain. A movement whose
// previous_stock differs from the prior new_stock is a break (a write that
// bypassed the log); a final new_stock different from stock_quantity means
// the ledger was changed without a movement. Products without movements
// are not checked.
func (r *reconciler) CheckProducts(ctx context.Context) (int, []dto.ProductDrift, error) {
	drifts := []dto.ProductDrift{}
	checked := 0
	for page := 1; ; page++ {
		products, _, err := r.products.List(ctx, repository.ProductFilter{
			IncludeAll: true,
			Page:       page,
			Limit:      reconcilePageSize,
		})
		if err != nil {
			return checked, nil, err
		}
		for _, p := range products {
			chain, err := r.movements.ListByProduct(ctx, p.ID)
			if err != nil {
				return checked, nil, err
			}
			checked++
			if len(chain) == 0 {
				continue
			}
			breaks := chainBreaks(chain)
			last := chain[len(chain)-1].NewStock
			if breaks == 0 && last == p.StockQuantity {
				continue
			}
			drifts = append(drifts, dto.ProductDrift{
				ProductID:     p.ID.String(),
				Name:          p.Name,
				StockQuantity: p.StockQuantity,
				LedgerStock:   last,
				ChainBreaks:   breaks,
				Movements:     len(chain),
			})
		}
		if len(products) < reconcilePageSize {
			break
		}
	}
	return checked, drifts, nil
}

func chainBreaks(chain []model.StockMovement) int {
	breaks := 0
	for i, m := range chain {
		if i > 0 && m.PreviousStock != chain[i-1].NewStock {
			breaks++
		}
		if !movementConsistent(m) {
			breaks++
		}
	}
	return breaks
}

func movementConsistent(m model.StockMovement) bool {
	switch m.MovementType {
	case model.MovementOut:
		return m.NewStock == m.PreviousStock-m.Quantity
	case model.MovementIn:
		return m.NewStock == m.PreviousStock+m.Quantity
	default:
		return abs(m.NewStock-m.PreviousStock) == m.Quantity
	}
}
