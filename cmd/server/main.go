package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpos/internal/config"
	"stockpos/internal/infra"
	"stockpos/internal/metrics"
	"stockpos/internal/router"
	"stockpos/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	if err := infra.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis only carries low-stock alerts; sales keep working without it.
	deps := router.Deps{DB: db}
	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, low stock alerts disabled")
	} else {
		mailCB := infra.NewCircuitBreaker(mailerBreakerConfig())
		pool := worker.NewPool(rdb)
		pool.Register(worker.JobLowStock, worker.NewAlertWorker(infra.NewMailer(cfg), mailCB, rdb, cfg.AlertEmailTo))
		pool.Start(ctx, cfg.WorkerPoolSize)

		deps.Redis = rdb
		deps.MailCB = mailCB
		deps.Notifier = worker.NewDispatcher(rdb)
	}

	r := router.New(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("stockpos listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

func mailerBreakerConfig() infra.CircuitBreakerConfig {
	cfg := infra.DefaultCBConfig("smtp")
	cfg.OnStateChange = func(name string, _, to infra.CBState) {
		metrics.CircuitState.WithLabelValues(name).Set(float64(to))
	}
	return cfg
}
