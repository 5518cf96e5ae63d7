package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueAlerts = "jobs:alerts"

	JobLowStock = "low_stock"

	maxAttempts = 3
)

// ErrQueueUnavailable is returned by Dispatcher when Redis is not configured.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job payload. A returned error re-enqueues the job
// until maxAttempts, then moves it to the dead letter queue.
type Handler interface {
	Process(ctx context.Context, payload json.RawMessage) error
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// NotifyLowStock enqueues a low-stock alert.
func (d *Dispatcher) NotifyLowStock(ctx context.Context, ev dto.LowStockEvent) error {
	return d.enqueue(ctx, QueueAlerts, JobLowStock, ev)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	if d == nil || d.rdb == nil {
		return ErrQueueUnavailable
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return push(ctx, d.rdb, queue, Job{Type: jobType, Payload: data})
}

func push(ctx context.Context, rdb *redis.Client, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes QueueAlerts with a fixed number of goroutines.
type Pool struct {
	rdb      *redis.Client
	handlers map[string]Handler
	// errBackoff is how long a worker waits after BRPOP fails with
	// anything but an empty-queue timeout.
	errBackoff time.Duration
}

func NewPool(rdb *redis.Client) *Pool {
	return &Pool{rdb: rdb, handlers: make(map[string]Handler), errBackoff: time.Second}
}

// Register binds a job type to its handler. Call before Start.
func (p *Pool) Register(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Start launches numWorkers goroutines. Each blocks on BRPOP, so idle
// workers cost nothing. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go p.run(ctx, i)
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to 5s then loops to check ctx
			result, err := p.rdb.BRPop(ctx, 5*time.Second, QueueAlerts).Result()
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			if err != nil {
				log.Warn().Int("worker", id).Err(err).Msg("queue unavailable, backing off")
				p.sleep(ctx)
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.processJob(ctx, result[0], result[1])
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.errBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Pool) processJob(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		return
	}
	h, ok := p.handlers[job.Type]
	if !ok {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, "no handler registered", job.Attempts)
		metrics.JobsProcessed.WithLabelValues(job.Type, "dead").Inc()
		return
	}

	err := h.Process(ctx, job.Payload)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(job.Type, "ok").Inc()
		return
	}

	job.Attempts++
	if job.Attempts >= maxAttempts {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, err.Error(), job.Attempts)
		metrics.JobsProcessed.WithLabelValues(job.Type, "dead").Inc()
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempt", job.Attempts).Msg("job failed, re-enqueueing")
	metrics.JobsProcessed.WithLabelValues(job.Type, "retry").Inc()
	if err := push(ctx, p.rdb, queue, job); err != nil {
		log.Error().Err(err).Str("type", job.Type).Msg("re-enqueue failed, job lost")
	}
}
