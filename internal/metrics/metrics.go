// Package metrics holds the Prometheus collectors of the stock subsystem and
// the gin glue that exposes them.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockpos"

var (
	// StockAdjustments counts every Apply call by direction and outcome
	// (applied | skipped | insufficient | conflict | error).
	StockAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "adjustments_total",
			Help:      "Stock adjustment attempts by direction and outcome.",
		},
		[]string{"direction", "status"},
	)

	// SalesRecorded counts RecordSale outcomes (created | replayed | failed).
	SalesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "recorded_total",
			Help:      "Sale recording attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// SaleDuration tracks the full checkout transaction, retries included.
	SaleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sales",
		Name:      "record_duration_seconds",
		Help:      "Duration of RecordSale in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// RequestDuration tracks HTTP latency by route template.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// JobsProcessed counts async jobs by type and result.
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Async jobs processed by type and result.",
		},
		[]string{"type", "result"},
	)

	// CircuitState is 0 closed, 1 open, 2 half-open.
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open).",
		},
		[]string{"name"},
	)
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(StockAdjustments, SalesRecorded, SaleDuration, RequestDuration, JobsProcessed, CircuitState)
}

// Handler serves the registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

// Middleware records request latency using the matched route template so
// path parameters do not explode label cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
