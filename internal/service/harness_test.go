package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/repository"
	"stockpos/internal/testutil"

	"gorm.io/gorm"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

// recordingNotifier captures low-stock events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []dto.LowStockEvent
	err    error
}

func (n *recordingNotifier) NotifyLowStock(_ context.Context, ev dto.LowStockEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) Events() []dto.LowStockEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dto.LowStockEvent(nil), n.events...)
}

var _ LowStockNotifier = (*recordingNotifier)(nil)

// ── Harness ───────────────────────────────────────────────────────────────────

type harness struct {
	db        *gorm.DB
	txr       *repository.TxRunner
	products  repository.ProductRepository
	movements repository.StockMovementRepository
	sales     repository.SaleRepository
	stock     StockService
	saleSvc   SaleService
	inventory InventoryService
	rec       Reconciler
	notifier  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, testutil.NewDB(t))
}

// newHarnessOn wires every service on an already migrated database.
func newHarnessOn(t *testing.T, db *gorm.DB) *harness {
	t.Helper()
	h := &harness{
		db:        db,
		txr:       repository.NewTxRunner(db, time.Second),
		products:  repository.NewProductRepository(db),
		movements: repository.NewStockMovementRepository(db),
		sales:     repository.NewSaleRepository(db),
		notifier:  &recordingNotifier{},
	}
	h.stock = NewStockService(h.products, h.movements, h.txr, 3)
	h.saleSvc = NewSaleService(h.sales, h.products, h.stock, h.txr, h.notifier, 3)
	h.inventory = NewInventoryService(h.products, h.movements)
	h.rec = NewReconciler(h.sales, h.products, h.movements)
	return h
}

// apply runs one adjustment in its own transaction.
func (h *harness) apply(adj Adjustment) (*AdjustmentResult, error) {
	var res *AdjustmentResult
	err := h.txr.Run(context.Background(), func(tx *gorm.DB) error {
		var err error
		res, err = h.stock.Apply(context.Background(), tx, adj)
		return err
	})
	return res, err
}
