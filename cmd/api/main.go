package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/booking-reconciler/cmd/mainconfig"
	"github.com/wolfman30/booking-reconciler/internal/api/router"
	"github.com/wolfman30/booking-reconciler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-reconciler/internal/http/middleware"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/observability/metrics"
	"github.com/wolfman30/booking-reconciler/internal/search"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking reconciler",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	metricsHandler, reconcilerMetrics := setupMetrics()

	queue := bootstrap.BuildQueue(cfg, awsCfg, logger)
	worker := notify.NewWorker(queue, bootstrap.BuildNotifyService(cfg, awsCfg, logger), reconcilerMetrics, logger,
		notify.WithWorkerCount(cfg.WorkerCount),
		notify.WithJobTimeout(cfg.JobTimeout),
	)
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	processor := bootstrap.BuildProcessor(bootstrap.ProcessorDeps{
		Config:  cfg,
		Pool:    pool,
		Redis:   redisClient,
		Queue:   queue,
		Metrics: reconcilerMetrics,
		Logger:  logger,
	})

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	routerCfg := &router.Config{
		Logger:             logger,
		AppName:            cfg.AppName,
		Webhooks:           handlers.NewBookingWebhookHandler(processor, logger),
		APIKey:             cfg.APIKey,
		JWTSecret:          cfg.JWTSecret,
		RateLimiter:        limiter,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if db := searchDB(pool); db != nil {
		defer func() { _ = db.Close() }()
		repo := search.NewRepository(db, bootstrap.LoadLocation(cfg.LocalTimezone, logger))
		routerCfg.Search = handlers.NewBookingSearchHandler(repo, logger)
	} else {
		logger.Warn("search endpoints disabled: no database configured")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Workers stop after webhooks have returned; a running job finishes first.
	cancelWorkers()
	worker.Wait()
	logger.Info("server stopped")
}

// setupMetrics builds a private registry so tests can call it repeatedly.
func setupMetrics() (http.Handler, *metrics.ReconcilerMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), metrics.NewReconcilerMetrics(reg)
}

// searchDB exposes the pool as database/sql for the read-side repository.
func searchDB(pool *pgxpool.Pool) *sql.DB {
	if pool == nil {
		return nil
	}
	return stdlib.OpenDBFromPool(pool)
}
