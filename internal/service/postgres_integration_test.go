//go:build integration

package service

// Row-lock behaviour needs a real Postgres: SQLite serializes everything on
// one connection. Run with: go test -tags integration ./internal/service/...

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockpos/internal/infra"
	"stockpos/internal/model"
	"stockpos/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("stockpos_test"),
		tcPostgres.WithUsername("stockpos"),
		tcPostgres.WithPassword("stockpos"),
		testcontainers.WithWaitStrategy(
			tcPostgres.BasicWaitStrategies()...,
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

func TestPostgres_ConcurrentSales(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))
	h := newHarnessOn(t, db)

	p := testutil.SeedProduct(t, db, "Promoção", 25, 0)
	q := testutil.SeedProduct(t, db, "Brinde", 25, 0)

	const buyers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		other    []error
	)
	for i := 0; i < buyers; i++ {
		// half the carts list the products in reverse order
		lines := saleRequest(nil, line(p, 1), line(q, 1))
		if i%2 == 1 {
			lines = saleRequest(nil, line(q, 1), line(p, 1))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), lines)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 25, ok)
	assert.Equal(t, 15, rejected)
	assert.Equal(t, 0, testutil.Stock(t, db, p.ID))
	assert.Equal(t, 0, testutil.Stock(t, db, q.ID))

	report, err := h.rec.Run(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%+v", report)
}

func TestPostgres_ConcurrentResubmissions(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))
	h := newHarnessOn(t, db)

	p := testutil.SeedProduct(t, db, "Ovos", 30, 0)
	id := uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(&id, line(p, 4)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 26, testutil.Stock(t, db, p.ID))
	assert.Len(t, testutil.Movements(t, db, p.ID), 1)
}

func TestPostgres_MigrateDropsLegacyTrigger(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))

	// an older deployment decremented stock from a trigger
	require.NoError(t, db.Exec(`
CREATE OR REPLACE FUNCTION legacy_decrement() RETURNS trigger AS $$
BEGIN
  UPDATE products SET stock_quantity = stock_quantity - NEW.quantity WHERE id = NEW.product_id;
  RETURN NEW;
END $$ LANGUAGE plpgsql`).Error)
	require.NoError(t, db.Exec(`
CREATE TRIGGER trg_sale_items_stock AFTER INSERT ON sale_items
FOR EACH ROW EXECUTE FUNCTION legacy_decrement()`).Error)

	require.NoError(t, infra.Migrate(db))

	var triggers int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM pg_trigger
		WHERE tgrelid = 'sale_items'::regclass AND NOT tgisinternal`).Scan(&triggers).Error)
	assert.Zero(t, triggers)

	h := newHarnessOn(t, db)
	p := testutil.SeedProduct(t, db, "Refrigerante", 20, 0)
	_, err := h.saleSvc.RecordSale(context.Background(), uuid.New(), saleRequest(nil, line(p, 3)))
	require.NoError(t, err)
	assert.Equal(t, 17, testutil.Stock(t, db, p.ID))
}

func TestPostgres_StockCheckConstraint(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))
	p := testutil.SeedProduct(t, db, "Pilha", 1, 0)

	err := db.Model(&model.Product{}).Where("id = ?", p.ID).
		Update("stock_quantity", -1).Error
	assert.Error(t, err)
}

func TestPostgres_ZeroQuantityOnlyForCounts(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))
	h := newHarnessOn(t, db)
	p := testutil.SeedProduct(t, db, "Lâmpada", 4, 0)

	res, err := h.apply(Adjustment{ProductID: p.ID, Quantity: 4, ReferenceID: uuid.New(), Direction: DirectionAdjust})
	require.NoError(t, err)
	assert.Zero(t, res.Movement.Quantity)

	err = db.Create(&model.StockMovement{
		ProductID: p.ID, MovementType: model.MovementOut, Quantity: 0,
		PreviousStock: 4, NewStock: 4, ReferenceID: uuid.New(), IdempotencyKey: uuid.NewString(),
	}).Error
	assert.Error(t, err)
}

func TestPostgres_LockTimeoutIsConflict(t *testing.T) {
	db := startPostgres(t)
	require.NoError(t, infra.Migrate(db))
	h := newHarnessOn(t, db)
	p := testutil.SeedProduct(t, db, "Disputado", 10, 0)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- db.Transaction(func(tx *gorm.DB) error {
			if _, err := h.products.LockForUpdateTx(tx, p.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := h.apply(Adjustment{ProductID: p.ID, Quantity: 1, ReferenceID: uuid.New(), Direction: DirectionReduce})
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 10, testutil.Stock(t, db, p.ID))
}
