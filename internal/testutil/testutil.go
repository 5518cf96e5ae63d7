// Package testutil builds throwaway databases for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"stockpos/internal/infra"
	"stockpos/internal/middleware"
	"stockpos/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database private to t.
// The pool is capped at one connection, so transactions from concurrent
// goroutines run one after another. Code under test must not use the
// outer *gorm.DB while it holds a transaction.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, infra.Migrate(db))
	return db
}

// SeedProduct inserts an active product priced at 10.00 (cost 6.00).
func SeedProduct(t *testing.T, db *gorm.DB, name string, stock, minStock int) *model.Product {
	t.Helper()
	p := &model.Product{
		SKU:           "SKU-" + uuid.NewString()[:8],
		Name:          name,
		StockQuantity: stock,
		MinStock:      minStock,
		CostPrice:     decimal.RequireFromString("6.00"),
		SalePrice:     decimal.RequireFromString("10.00"),
		Active:        true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// Stock reads the current stock_quantity straight from the table.
func Stock(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var p model.Product
	require.NoError(t, db.First(&p, "id = ?", id).Error)
	return p.StockQuantity
}

// Movements returns every movement of a product, oldest first.
func Movements(t *testing.T, db *gorm.DB, productID uuid.UUID) []model.StockMovement {
	t.Helper()
	var ms []model.StockMovement
	require.NoError(t, db.Where("product_id = ?", productID).Order("created_at ASC").Find(&ms).Error)
	return ms
}

// Token signs an HS256 access token the way the auth service does.
func Token(t *testing.T, secret, userID, role string, ttl time.Duration) string {
	t.Helper()
	claims := middleware.JWTClaims{
		UserID:   userID,
		Username: "test-" + role,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}
