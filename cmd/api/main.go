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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"instaq/internal/attendance"
	"instaq/internal/audit"
	"instaq/internal/auth"
	"instaq/internal/config"
	"instaq/internal/httpapi"
	"instaq/internal/logging"
	"instaq/internal/metrics"
	"instaq/internal/queue"
	"instaq/internal/store"
	"instaq/internal/users"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.SessionBackend != "memory" {
		redisClient, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			logger.Warn("redis not reachable", "addr", cfg.RedisAddr)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		events, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		// no separate worker in memory mode; audit in-process
		go audit.Run(ctx, events, m, logger.With("component", "audit"))
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var revoker auth.Revoker
	if cfg.SessionBackend == "memory" {
		revoker = auth.NewMemoryRevoker()
	} else {
		revoker = auth.NewRedisRevoker(redisClient.Client, "")
	}

	userSvc := users.NewService(users.NewRepository(db), users.TokenConfig{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, revoker, logger)
	attSvc := attendance.NewService(attendance.NewRepository(db), attendance.Options{
		Directory:       userSvc,
		Events:          q,
		Metrics:         m,
		Logger:          logger,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	checks := map[string]httpapi.HealthCheck{
		"db": func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil },
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Healthy
	}

	r := httpapi.New(httpapi.Deps{
		Attendance:      attSvc,
		Users:           userSvc,
		Revoker:         revoker,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		Metrics:         m,
		Gatherer:        reg,
		Health:          checks,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "env", cfg.Env, "db", cfg.DatabaseDriver, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}
