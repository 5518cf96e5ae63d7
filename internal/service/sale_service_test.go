package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"stockpos/internal/dto"
	"stockpos/internal/model"
	"stockpos/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleRequest(id *string, lines ...dto.SaleLineRequest) dto.RecordSaleRequest {
	return dto.RecordSaleRequest{
		ID:            id,
		PaymentMethod: "dinheiro",
		Lines:         lines,
	}
}

func line(p *model.Product, qty int) dto.SaleLineRequest {
	return dto.SaleLineRequest{ProductID: p.ID.String(), Quantity: qty}
}

func strPtr(s string) *string { return &s }

func countSales(t *testing.T, h *harness) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&model.Sale{}).Count(&n).Error)
	return n
}

// ── RecordSale ────────────────────────────────────────────────────────────────

func TestRecordSale_ReducesStockOnce(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Arroz 5kg", 20, 0)
	ctx := context.Background()
	id := uuid.NewString()

	resp, err := h.saleSvc.RecordSale(ctx, uuid.New(), saleRequest(&id, line(p, 3)))
	require.NoError(t, err)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, model.SaleStatusCompleted, resp.Status)
	assert.Equal(t, model.PaymentStatusPaid, resp.PaymentStatus)
	assert.False(t, resp.Replayed)
	require.Len(t, resp.Lines, 1)
	require.NotNil(t, resp.Lines[0].StockAfter)
	assert.Equal(t, 17, *resp.Lines[0].StockAfter)
	assert.True(t, resp.TotalAmount.Equal(decimal.NewFromInt(30)))

	movs := testutil.Movements(t, h.db, p.ID)
	require.Len(t, movs, 1)
	assert.Equal(t, model.MovementOut, movs[0].MovementType)
	assert.Equal(t, 3, movs[0].Quantity)
	assert.Equal(t, 20, movs[0].PreviousStock)
	assert.Equal(t, 17, movs[0].NewStock)
	assert.Equal(t, id, movs[0].ReferenceID.String())
	assert.Equal(t, 1, movs[0].ReferenceLine)

	// resubmission of the same sale id
	again, err := h.saleSvc.RecordSale(ctx, uuid.New(), saleRequest(&id, line(p, 3)))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, id, again.ID)
	assert.Equal(t, 17, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 1)
	assert.EqualValues(t, 1, countSales(t, h))
}

func TestRecordSale_InsufficientStockRecordsNothing(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Azeite", 2, 0)

	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 5)))
	require.Error(t, err)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	assert.Equal(t, 2, testutil.Stock(t, h.db, p.ID))
	assert.Empty(t, testutil.Movements(t, h.db, p.ID))
	assert.EqualValues(t, 0, countSales(t, h))
}

func TestRecordSale_AllOrNothing(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Café", 20, 0)
	q := testutil.SeedProduct(t, h.db, "Açúcar", 5, 0)

	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 3), line(q, 1000)))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 20, testutil.Stock(t, h.db, p.ID))
	assert.Equal(t, 5, testutil.Stock(t, h.db, q.ID))
	assert.Empty(t, testutil.Movements(t, h.db, p.ID))
	assert.Empty(t, testutil.Movements(t, h.db, q.ID))
	assert.EqualValues(t, 0, countSales(t, h))
}

func TestRecordSale_SameProductOnTwoLines(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Leite", 10, 0)

	resp, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 2), line(p, 3)))
	require.NoError(t, err)
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, 8, *resp.Lines[0].StockAfter)
	assert.Equal(t, 5, *resp.Lines[1].StockAfter)

	assert.Equal(t, 5, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 2)
}

func TestRecordSale_Validation(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Pão", 10, 0)
	ctx := context.Background()
	op := uuid.New()

	_, err := h.saleSvc.RecordSale(ctx, op, saleRequest(nil))
	assert.ErrorIs(t, err, ErrInvalidSale)

	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 0)))
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(nil, dto.SaleLineRequest{ProductID: "x", Quantity: 1}))
	assert.ErrorIs(t, err, ErrInvalidSale)

	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(strPtr("not-a-uuid"), line(p, 1)))
	assert.ErrorIs(t, err, ErrInvalidSale)

	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(nil, dto.SaleLineRequest{ProductID: uuid.NewString(), Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)

	req := saleRequest(nil, line(p, 1))
	req.Discount = decimal.NewFromInt(11)
	_, err = h.saleSvc.RecordSale(ctx, op, req)
	assert.ErrorIs(t, err, ErrInvalidSale)

	assert.Equal(t, 10, testutil.Stock(t, h.db, p.ID))
	assert.EqualValues(t, 0, countSales(t, h))
}

func TestRecordSale_InactiveProduct(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Fora de linha", 10, 0)
	require.NoError(t, h.db.Model(p).Update("active", false).Error)

	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 1)))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 10, testutil.Stock(t, h.db, p.ID))
}

func TestRecordSale_TotalsAndDiscount(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Queijo", 10, 0)
	price := decimal.RequireFromString("12.50")

	req := saleRequest(nil, dto.SaleLineRequest{ProductID: p.ID.String(), Quantity: 2, UnitPrice: &price})
	req.Discount = decimal.RequireFromString("5.00")
	resp, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), req)
	require.NoError(t, err)

	assert.Equal(t, "25.00", resp.TotalAmount.StringFixed(2))
	assert.Equal(t, "5.00", resp.DiscountAmount.StringFixed(2))
	assert.Equal(t, "20.00", resp.FinalAmount.StringFixed(2))
	assert.Equal(t, "12.50", resp.Lines[0].UnitPrice.StringFixed(2))
}

func TestRecordSale_PublishesLowStockAlerts(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Fermento", 6, 5)
	q := testutil.SeedProduct(t, h.db, "Sal", 50, 5)

	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 2), line(q, 1)))
	require.NoError(t, err)

	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, p.ID.String(), events[0].ProductID)
	assert.Equal(t, 4, events[0].StockQuantity)
	assert.Equal(t, 5, events[0].MinStock)
}

func TestRecordSale_NotifierFailureDoesNotFailSale(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("queue down")
	p := testutil.SeedProduct(t, h.db, "Manteiga", 1, 1)

	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, h.notifier.Events(), 1)
}

func TestRecordSale_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Promoção", 10, 0)

	const buyers = 15
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 1)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 0, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 10)
}

func TestRecordSale_ConcurrentResubmissionsReduceOnce(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Ovos", 30, 0)
	id := uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(&id, line(p, 4)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 26, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 1)
	assert.EqualValues(t, 1, countSales(t, h))
}

// ── CancelSale / DeleteSale ───────────────────────────────────────────────────

func TestCancelSale_RestoresOnce(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Feijão", 20, 0)
	ctx := context.Background()
	op := uuid.New()

	sale, err := h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 3)))
	require.NoError(t, err)
	id := uuid.MustParse(sale.ID)

	cancelled, err := h.saleSvc.CancelSale(ctx, op, id, "cliente desistiu")
	require.NoError(t, err)
	assert.Equal(t, model.SaleStatusCancelled, cancelled.Status)
	assert.Equal(t, model.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 20, testutil.Stock(t, h.db, p.ID))

	movs := testutil.Movements(t, h.db, p.ID)
	require.Len(t, movs, 2)
	assert.Equal(t, model.MovementIn, movs[1].MovementType)
	assert.Equal(t, 3, movs[1].Quantity)
	assert.Equal(t, 17, movs[1].PreviousStock)
	assert.Equal(t, 20, movs[1].NewStock)

	_, err = h.saleSvc.CancelSale(ctx, op, id, "de novo")
	require.NoError(t, err)
	assert.Equal(t, 20, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 2)

	_, err = h.saleSvc.CancelSale(ctx, op, uuid.New(), "inexistente")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSale_RestoresCompletedSale(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Macarrão", 10, 0)
	q := testutil.SeedProduct(t, h.db, "Molho", 10, 0)
	ctx := context.Background()
	op := uuid.New()

	sale, err := h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 2), line(q, 4)))
	require.NoError(t, err)
	id := uuid.MustParse(sale.ID)

	resp, err := h.saleSvc.DeleteSale(ctx, op, id)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.LinesRestored)
	assert.Equal(t, 0, resp.LinesSkipped)
	assert.Equal(t, 10, testutil.Stock(t, h.db, p.ID))
	assert.Equal(t, 10, testutil.Stock(t, h.db, q.ID))

	_, err = h.saleSvc.GetSale(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	// the audit trail survives the sale
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 2)

	_, err = h.saleSvc.DeleteSale(ctx, op, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordSale_DeletedSaleIDIsNotReused(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Feijão 1kg", 20, 0)
	ctx := context.Background()
	op := uuid.New()
	id := uuid.NewString()

	_, err := h.saleSvc.RecordSale(ctx, op, saleRequest(&id, line(p, 3)))
	require.NoError(t, err)
	_, err = h.saleSvc.DeleteSale(ctx, op, uuid.MustParse(id))
	require.NoError(t, err)
	require.Equal(t, 20, testutil.Stock(t, h.db, p.ID))

	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(&id, line(p, 3)))
	assert.ErrorIs(t, err, ErrInvalidSale)
	assert.Zero(t, countSales(t, h))
	assert.Equal(t, 20, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 2)

	// a fresh id still sells
	_, err = h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 3)))
	require.NoError(t, err)
	assert.Equal(t, 17, testutil.Stock(t, h.db, p.ID))
}

func TestDeleteSale_CancelledSaleIsNotRestoredTwice(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Óleo", 10, 0)
	ctx := context.Background()
	op := uuid.New()

	sale, err := h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 4)))
	require.NoError(t, err)
	id := uuid.MustParse(sale.ID)
	_, err = h.saleSvc.CancelSale(ctx, op, id, "troca")
	require.NoError(t, err)

	resp, err := h.saleSvc.DeleteSale(ctx, op, id)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.LinesRestored)
	assert.Equal(t, 1, resp.LinesSkipped)
	assert.Equal(t, 10, testutil.Stock(t, h.db, p.ID))
	assert.Len(t, testutil.Movements(t, h.db, p.ID), 2)
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestListSales(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedProduct(t, h.db, "Água", 100, 0)
	ctx := context.Background()
	op := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := h.saleSvc.RecordSale(ctx, op, saleRequest(nil, line(p, 1)))
		require.NoError(t, err)
	}
	first, err := h.saleSvc.ListSales(ctx, dto.SaleFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, first.Data, 3)
	_, err = h.saleSvc.CancelSale(ctx, op, uuid.MustParse(first.Data[0].ID), "teste")
	require.NoError(t, err)

	completed, err := h.saleSvc.ListSales(ctx, dto.SaleFilter{Status: model.SaleStatusCompleted, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, completed.Total)

	all, err := h.saleSvc.ListSales(ctx, dto.SaleFilter{Status: "all", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Len(t, all.Data, 2)
	assert.Equal(t, "Água", all.Data[0].Lines[0].ProductName)

	_, err = h.saleSvc.ListSales(ctx, dto.SaleFilter{Since: "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidSale)
}
