package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"instaq/internal/audit"
	"instaq/internal/config"
	"instaq/internal/logging"
	"instaq/internal/metrics"
	"instaq/internal/queue"
	"instaq/internal/store"
)

// Worker consumes attendance events from redis and writes the audit log.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With("component", "worker")
	slog.SetDefault(logger)

	if cfg.QueueBackend == "memory" {
		logger.Error("QUEUE_BACKEND=memory audits inside the api process; nothing to consume")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis config invalid", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable, consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metricsSrv := &http.Server{
		Addr:              cfg.WorkerMetrics,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", "error", err)
		}
	}()

	q := queue.NewRedisQueue(redisClient.Client, "")
	events, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for events", "metrics_addr", cfg.WorkerMetrics)
	handled := audit.Run(ctx, events, m, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped", "handled", handled)
}
