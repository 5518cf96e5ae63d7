package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// alertCooldown suppresses repeated mails for the same product while it
// stays low.
const alertCooldown = time.Hour

// AlertMailer sends one low-stock mail.
type AlertMailer interface {
	SendLowStockAlert(to string, ev dto.LowStockEvent) error
}

// AlertWorker processes JobLowStock jobs.
type AlertWorker struct {
	mailer AlertMailer
	cb     *infra.CircuitBreaker
	rdb    *redis.Client // nil disables the cooldown
	to     string
}

func NewAlertWorker(mailer AlertMailer, cb *infra.CircuitBreaker, rdb *redis.Client, to string) *AlertWorker {
	return &AlertWorker{mailer: mailer, cb: cb, rdb: rdb, to: to}
}

func (w *AlertWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var ev dto.LowStockEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Error().Err(err).Msg("alert_worker: invalid payload")
		return nil // retrying will not fix it
	}
	if w.to == "" {
		log.Debug().Str("product_id", ev.ProductID).Msg("alert_worker: no ALERT_EMAIL_TO, skipping")
		return nil
	}

	key := "alerts:low_stock:" + ev.ProductID
	if w.rdb != nil {
		fresh, err := w.rdb.SetNX(ctx, key, ev.StockQuantity, alertCooldown).Result()
		if err != nil {
			return fmt.Errorf("alert cooldown: %w", err)
		}
		if !fresh {
			log.Debug().Str("product_id", ev.ProductID).Msg("alert_worker: cooling down, skipping")
			return nil
		}
	}

	err := w.cb.Execute(func() error { return w.mailer.SendLowStockAlert(w.to, ev) })
	if err != nil {
		if w.rdb != nil {
			// let the retry through the cooldown
			w.rdb.Del(ctx, key)
		}
		return err
	}
	log.Info().
		Str("product_id", ev.ProductID).
		Int("stock_quantity", ev.StockQuantity).
		Msg("alert_worker: low stock alert sent")
	return nil
}
