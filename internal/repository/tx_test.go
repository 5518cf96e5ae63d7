package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stockpos/internal/testutil"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code     string
		conflict bool
	}{
		{"55P03", true}, // lock_not_available
		{"40P01", true}, // deadlock_detected
		{"40001", true}, // serialization_failure
		{"23505", true}, // unique_violation
		{"23503", false},
		{"42P01", false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := Classify(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: tc.code, Message: "boom"}))
			assert.Equal(t, tc.conflict, errors.Is(err, ErrConflict))
		})
	}

	assert.NoError(t, Classify(nil))
	plain := errors.New("plain")
	assert.Same(t, plain, Classify(plain))
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	db := testutil.NewDB(t)
	p := testutil.SeedProduct(t, db, "Sal", 5, 0)
	repo := NewProductRepository(db)
	txr := NewTxRunner(db, time.Second)
	boom := errors.New("boom")

	err := txr.Run(context.Background(), func(tx *gorm.DB) error {
		_, err := repo.ApplyDeltaTx(tx, p.ID, -5)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, testutil.Stock(t, db, p.ID))
}
