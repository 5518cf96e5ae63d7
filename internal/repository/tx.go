package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict reports a transient concurrency failure (lock wait timeout,
// deadlock, serialization failure, idempotency key race). Retrying the whole
// transaction is safe.
var ErrConflict = errors.New("concurrent update conflict")

// ErrNegativeStock is returned by ApplyDelta when the guarded update matched
// no row because the result would drop below zero.
var ErrNegativeStock = errors.New("stock would become negative")

// SQLSTATE codes that mean "try again".
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// TxRunner opens transactions with a bounded lock wait.
type TxRunner struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewTxRunner(db *gorm.DB, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{db: db, lockTimeout: lockTimeout}
}

func (r *TxRunner) DB() *gorm.DB { return r.db }

// Run executes fn inside one transaction. On Postgres, lock_timeout is set
// for the transaction only, so a stuck row lock fails fast with 55P03
// instead of hanging. Database errors are classified before returning.
func (r *TxRunner) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) && r.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return Classify(err)
}

// Classify maps transient Postgres failures to ErrConflict and leaves
// everything else untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure, pgUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", ErrConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func isPostgres(tx *gorm.DB) bool {
	return tx.Dialector != nil && tx.Dialector.Name() == "postgres"
}

// forUpdate adds a row-level exclusive lock where the dialect supports it.
// SQLite has no row locks; tests there run on a single connection so
// transactions are already serialized.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if isPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
