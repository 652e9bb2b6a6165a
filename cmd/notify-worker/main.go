package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/booking-reconciler/cmd/mainconfig"
	"github.com/wolfman30/booking-reconciler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/observability/metrics"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// notify-worker drains the SQS side-effect queue outside the API process.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue || cfg.SQSQueueURL == "" {
		logger.Error("notify-worker needs SQS_QUEUE_URL and USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	worker := notify.NewWorker(
		bootstrap.BuildQueue(cfg, &awsCfg, logger),
		bootstrap.BuildNotifyService(cfg, &awsCfg, logger),
		metrics.NewReconcilerMetrics(reg),
		logger,
		notify.WithWorkerCount(cfg.WorkerCount),
		notify.WithJobTimeout(cfg.JobTimeout),
		notify.WithReceiveWaitSeconds(20),
		notify.WithReceiveBatchSize(10),
	)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	logger.Info("notify worker started", "queue_url", cfg.SQSQueueURL, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down notify worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("notify worker stopped")
	case <-doneCtx.Done():
		logger.Error("notify worker shutdown timed out", "error", doneCtx.Err())
	}
}
