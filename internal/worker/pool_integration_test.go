//go:build integration

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	rdC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f handlerFunc) Process(ctx context.Context, payload json.RawMessage) error { return f(ctx, payload) }

func TestPool_DeliversAlert(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan dto.LowStockEvent, 1)
	pool := NewPool(rdb)
	pool.Register(JobLowStock, handlerFunc(func(_ context.Context, raw json.RawMessage) error {
		var ev dto.LowStockEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		got <- ev
		return nil
	}))
	pool.Start(ctx, 1)

	require.NoError(t, NewDispatcher(rdb).NotifyLowStock(ctx, lowStock))
	select {
	case ev := <-got:
		assert.Equal(t, lowStock, ev)
	case <-time.After(10 * time.Second):
		t.Fatal("alert not delivered")
	}
}

func TestPool_ExhaustedJobGoesToDLQ(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls int
	)
	pool := NewPool(rdb)
	pool.Register(JobLowStock, handlerFunc(func(context.Context, json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("smtp down")
	}))
	pool.Start(ctx, 1)

	require.NoError(t, NewDispatcher(rdb).NotifyLowStock(ctx, lowStock))
	require.Eventually(t, func() bool {
		n, err := DLQLength(ctx, rdb, QueueAlerts)
		return err == nil && n == 1
	}, 20*time.Second, 100*time.Millisecond)

	entries, err := DLQPeek(ctx, rdb, QueueAlerts, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, JobLowStock, entries[0].JobType)
	assert.Equal(t, "smtp down", entries[0].Reason)
	assert.Equal(t, maxAttempts, entries[0].Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, maxAttempts, calls)
}

func TestAlertWorker_Cooldown(t *testing.T) {
	rdb := startRedis(t)
	mailer := &stubMailer{}
	w := NewAlertWorker(mailer, testBreaker(), rdb, "gerente@loja.test")
	payload := mustJSON(t, lowStock)

	require.NoError(t, w.Process(context.Background(), payload))
	require.NoError(t, w.Process(context.Background(), payload))
	assert.Len(t, mailer.sent, 1)

	ttl, err := rdb.TTL(context.Background(), "alerts:low_stock:"+lowStock.ProductID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestAlertWorker_FailedSendClearsCooldown(t *testing.T) {
	rdb := startRedis(t)
	mailer := &stubMailer{err: errors.New("smtp down")}
	w := NewAlertWorker(mailer, testBreaker(), rdb, "gerente@loja.test")
	payload := mustJSON(t, lowStock)

	require.Error(t, w.Process(context.Background(), payload))
	mailer.err = nil
	require.NoError(t, w.Process(context.Background(), payload))
	assert.Len(t, mailer.sent, 1)
}
