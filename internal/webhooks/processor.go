// Package webhooks runs one inbound booking or customer event through
// normalization, reconciliation and the notification gate.
package webhooks

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

var webhooksTracer = otel.Tracer("booking-reconciler.internal.webhooks")

// Status is the acknowledgement returned to the sender.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
	StatusInvalid   Status = "invalid"
	StatusRejected  Status = "rejected"
	StatusRetry     Status = "retry"
)

// Result is the outcome of one inbound event.
type Result struct {
	Status     Status
	Kind       normalize.Kind
	Category   bookings.Category
	ExternalID int64
	Outcome    bookings.Outcome
	Err        error
}

// Action reports what the commit did, if anything.
func (r Result) Action() bookings.Action {
	if r.Outcome.Change == nil {
		return ""
	}
	return r.Outcome.Change.Action
}

// Reconciler is the write side used by the Processor.
type Reconciler interface {
	Upsert(ctx context.Context, category bookings.Category, externalID int64, fields *bookings.Fields, customer *bookings.CustomerFields) bookings.Outcome
	Cancel(ctx context.Context, category bookings.Category, externalID int64, fields *bookings.Fields, customer *bookings.CustomerFields) bookings.Outcome
	UpsertCustomer(ctx context.Context, fields *bookings.CustomerFields) bookings.Outcome
}

// Publisher enqueues side-effect jobs.
type Publisher interface {
	Publish(ctx context.Context, jobs ...notify.Job) error
}

// Metrics records processing results. Implementations must be nil-safe.
type Metrics interface {
	ObserveEvent(category, kind, state string)
	ObserveConflictRetry(category, state string)
	ObserveWebhookLatency(category string, seconds float64)
}

// Processor wires the pipeline stages together.
type Processor struct {
	normalizer *normalize.Normalizer
	reconciler Reconciler
	gate       *notify.Gate
	publisher  Publisher
	metrics    Metrics
	logger     *logging.Logger
}

// Config holds the Processor collaborators. Publisher and Metrics may be nil.
type Config struct {
	Normalizer *normalize.Normalizer
	Reconciler Reconciler
	Gate       *notify.Gate
	Publisher  Publisher
	Metrics    Metrics
	Logger     *logging.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config) *Processor {
	if cfg.Normalizer == nil || cfg.Reconciler == nil {
		panic("webhooks: normalizer and reconciler required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = notify.NewGate(notify.GateConfig{})
	}
	return &Processor{
		normalizer: cfg.Normalizer,
		reconciler: cfg.Reconciler,
		gate:       cfg.Gate,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// ProcessBooking handles a booking or reservation webhook.
func (p *Processor) ProcessBooking(ctx context.Context, category bookings.Category, kind normalize.Kind, body []byte) Result {
	start := time.Now()
	ctx, span := webhooksTracer.Start(ctx, "webhooks.process_booking")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhooks.category", category.String()),
		attribute.String("webhooks.kind", string(kind)),
	)

	res := p.processBooking(ctx, category, kind, body)
	span.SetAttributes(
		attribute.Int64("webhooks.external_id", res.ExternalID),
		attribute.String("webhooks.status", string(res.Status)),
	)
	if res.Err != nil && res.Status != StatusIgnored {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Status))
	}
	p.observe(category.String(), res, start)
	return res
}

func (p *Processor) processBooking(ctx context.Context, category bookings.Category, kind normalize.Kind, body []byte) Result {
	res := Result{Kind: kind, Category: category}

	ev, err := normalize.Decode(kind, category, body)
	if err != nil {
		return p.invalid(res, err)
	}
	res.ExternalID = ev.ExternalID

	if normalize.Reject(ev.Raw) {
		p.logger.Info("webhook ignored",
			"category", category.String(), "kind", kind, "external_id", ev.ExternalID)
		res.Status = StatusIgnored
		res.Err = normalize.ErrRejected
		return res
	}

	fields, customer, err := p.normalizer.Booking(ctx, ev)
	if err != nil {
		res.Outcome = bookings.Outcome{State: bookings.StateFatal, Err: err}
	} else if kind.IsCancellation() {
		res.Outcome = p.reconciler.Cancel(ctx, category, ev.ExternalID, fields, customer)
	} else {
		res.Outcome = p.reconciler.Upsert(ctx, category, ev.ExternalID, fields, customer)
	}

	p.settle(ctx, &res, body)
	return res
}

// ProcessCustomer handles a standalone customer webhook.
func (p *Processor) ProcessCustomer(ctx context.Context, kind normalize.Kind, body []byte) Result {
	start := time.Now()
	ctx, span := webhooksTracer.Start(ctx, "webhooks.process_customer")
	defer span.End()

	res := Result{Kind: kind}
	raw, id, err := normalize.DecodeCustomer(body)
	if err != nil {
		res = p.invalid(res, err)
	} else {
		res.ExternalID = id
		res.Outcome = p.reconciler.UpsertCustomer(ctx, p.normalizer.Customer(ctx, raw, id))
		p.settle(ctx, &res, body)
	}

	span.SetAttributes(
		attribute.Int64("webhooks.customer_id", res.ExternalID),
		attribute.String("webhooks.status", string(res.Status)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	p.observe("customer", res, start)
	return res
}

func (p *Processor) invalid(res Result, err error) Result {
	var verr *normalize.ValidationError
	if !errors.As(err, &verr) {
		verr = &normalize.ValidationError{Field: "body", Reason: err.Error()}
	}
	p.logger.Warn("webhook payload invalid", "kind", res.Kind, "field", verr.Field, "reason", verr.Reason)
	res.Status = StatusInvalid
	res.Err = verr
	return res
}

// settle maps the outcome to a status and publishes any triggered jobs.
// Publishing failures are logged; the commit already happened.
func (p *Processor) settle(ctx context.Context, res *Result, body []byte) {
	res.Err = res.Outcome.Err
	switch res.Outcome.State {
	case bookings.StateCommitted:
		res.Status = StatusCommitted
	case bookings.StateDuplicateIgnored:
		res.Status = StatusDuplicate
	case bookings.StateRetryableInfra:
		res.Status = StatusRetry
	default:
		res.Status = StatusRejected
	}

	jobs := p.gate.Evaluate(notify.Transition{
		Kind:       res.Kind,
		Category:   res.Category,
		ExternalID: res.ExternalID,
		Outcome:    res.Outcome,
		Payload:    body,
	})
	if len(jobs) == 0 || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), jobs...); err != nil {
		p.logger.Error("failed to enqueue side effects",
			"external_id", res.ExternalID, "jobs", len(jobs), "error", err)
	}
}

func (p *Processor) observe(category string, res Result, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveEvent(category, string(res.Kind), string(res.Status))
	if res.Outcome.ConflictRetried {
		p.metrics.ObserveConflictRetry(category, string(res.Outcome.State))
	}
	p.metrics.ObserveWebhookLatency(category, time.Since(start).Seconds())
}
