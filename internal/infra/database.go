package infra

import (
	"fmt"
	"time"

	"stockpos/internal/model"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens a GORM connection backed by pgx. The schema is not
// touched; run Migrate (stockctl migrate, or the server on startup) for that.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the stock tables, then applies the Postgres
// patches AutoMigrate cannot express. Safe to run repeatedly.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Product{},
		&model.Sale{},
		&model.SaleItem{},
		&model.StockMovement{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return applySchemaPatches(db)
}

// schemaPatches are idempotent: every statement is guarded by an existence
// check.
var schemaPatches = []struct{ descr, sql string }{
	{"products.stock_quantity >= 0", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_products_stock_non_negative') THEN
    ALTER TABLE products ADD CONSTRAINT chk_products_stock_non_negative CHECK (stock_quantity >= 0);
  END IF;
END $$`},
	{"sale_items.quantity > 0", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_sale_items_quantity_positive') THEN
    ALTER TABLE sale_items ADD CONSTRAINT chk_sale_items_quantity_positive CHECK (quantity > 0);
  END IF;
END $$`},
	// Counts that match stock are recorded as zero-quantity "ajuste" rows.
	{"stock_movements.quantity > 0 except counts", `
DO $$ BEGIN
  ALTER TABLE stock_movements DROP CONSTRAINT IF EXISTS chk_stock_movements_quantity_positive;
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_stock_movements_quantity') THEN
    ALTER TABLE stock_movements ADD CONSTRAINT chk_stock_movements_quantity
      CHECK (quantity > 0 OR (movement_type = 'ajuste' AND quantity = 0));
  END IF;
END $$`},
	// Stock is written only by the application. Any user trigger left on
	// sale_items by an older deployment decrements a second time per line.
	{"drop legacy stock triggers on sale_items", `
DO $$ DECLARE t record; BEGIN
  FOR t IN SELECT tgname FROM pg_trigger
           WHERE tgrelid = to_regclass('sale_items') AND NOT tgisinternal LOOP
    EXECUTE format('DROP TRIGGER IF EXISTS %I ON sale_items', t.tgname);
    RAISE NOTICE 'dropped trigger % on sale_items', t.tgname;
  END LOOP;
END $$`},
	{"stock_movements reference index", `
CREATE INDEX IF NOT EXISTS idx_stock_movements_reference
    ON stock_movements (reference_id, product_id, movement_type)`},
	{"stock_movements product chain index", `
CREATE INDEX IF NOT EXISTS idx_stock_movements_product_created
    ON stock_movements (product_id, created_at)`},
}

func applySchemaPatches(db *gorm.DB) error {
	for _, p := range schemaPatches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
		log.Debug().Str("patch", p.descr).Msg("schema patch applied")
	}
	return nil
}
