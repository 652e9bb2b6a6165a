package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/booking-reconciler/cmd/mainconfig"
	"github.com/wolfman30/booking-reconciler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/observability/metrics"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	h := &batchHandler{
		jobs:       bootstrap.BuildNotifyService(cfg, awsCfg, logger),
		observer:   metrics.NewReconcilerMetrics(prometheus.NewRegistry()),
		logger:     logger,
		jobTimeout: cfg.JobTimeout,
	}
	lambda.Start(h.Handle)
}

// batchHandler runs an SQS batch of notify jobs. Like the long-running
// worker it drops jobs that fail outright; only jobs cut short by the
// invocation deadline are reported back so SQS redelivers them.
type batchHandler struct {
	jobs       notify.JobHandler
	observer   notify.JobObserver
	logger     *logging.Logger
	jobTimeout time.Duration
}

func (h *batchHandler) Handle(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if ctx.Err() != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		var job notify.Job
		if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
			h.logger.Error("failed to decode notify job", "error", err, "msg_id", record.MessageId)
			continue
		}

		err := h.run(ctx, job)
		if h.observer != nil {
			h.observer.ObserveJob(string(job.Type), err)
		}
		switch {
		case err == nil:
			h.logger.Info("notify job done", "job_id", job.ID, "type", job.Type, "external_id", job.ExternalID)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			h.logger.Warn("notify job interrupted, returning to queue", "job_id", job.ID, "msg_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		default:
			h.logger.Error("notify job failed", "job_id", job.ID, "type", job.Type, "external_id", job.ExternalID, "error", err)
		}
	}
	return resp, nil
}

func (h *batchHandler) run(ctx context.Context, job notify.Job) error {
	if h.jobTimeout <= 0 {
		return h.jobs.Handle(ctx, job)
	}
	jobCtx, cancel := context.WithTimeout(ctx, h.jobTimeout)
	defer cancel()
	return h.jobs.Handle(jobCtx, job)
}
