package bookings

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

var bookingsTracer = otel.Tracer("booking-reconciler.internal.bookings")

// Action records what an event did to its row.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionCancelled Action = "cancelled"
	ActionDeleted   Action = "deleted"
	// ActionStale means the stored row is newer than the event; nothing was
	// written.
	ActionStale Action = "stale"
	ActionNone  Action = "none"
)

// Change describes one committed event.
type Change struct {
	Category Category
	Action   Action
	// Prior is the committed row as read inside the transaction, before the
	// event applied. Nil when the external id was unseen.
	Prior *Record
	// Record is the row as written. Nil after a delete.
	Record *Record
	// Removed is the deleted row with the cancellation applied.
	Removed *Record
	// Promoted lists reservation tables whose row was set to CONVERTED.
	Promoted []Category

	Customer        *Customer
	CustomerCreated bool
}

// Options configures a Reconciler.
type Options struct {
	// DefaultServiceCategory is stored on new records that arrive without one.
	DefaultServiceCategory string
	Logger                 *logging.Logger
}

// Reconciler upserts normalized events into the record tables.
type Reconciler struct {
	resolver               *Resolver
	logger                 *logging.Logger
	defaultServiceCategory string
}

// NewReconciler constructs a reconciler committing through resolver.
func NewReconciler(resolver *Resolver, opts Options) *Reconciler {
	if resolver == nil {
		panic("bookings: resolver required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		resolver:               resolver,
		logger:                 logger,
		defaultServiceCategory: opts.DefaultServiceCategory,
	}
}

// Upsert creates the record if the external id is unseen in the category's
// table, otherwise applies only the fields the event carried. customer may be
// nil to skip the customer upsert.
func (r *Reconciler) Upsert(ctx context.Context, category Category, externalID int64, fields *Fields, customer *CustomerFields) Outcome {
	ctx, span := r.start(ctx, "bookings.upsert", category, externalID)
	defer span.End()

	out := r.resolver.Run(ctx, keyFor(category, externalID, fields), func(ctx context.Context, tx Tx, _ bool) (*Change, error) {
		prior, err := r.load(ctx, tx, category, externalID)
		if err != nil {
			return nil, err
		}
		change, err := r.write(ctx, tx, category, externalID, prior, fields)
		if err != nil {
			return nil, err
		}
		return change, r.attachCustomer(ctx, tx, change, customer)
	})
	return r.finish(span, out)
}

// Cancel handles a cancellation event. Unknown ids are created already
// cancelled; known ids get the narrow cancellation update, or are deleted
// when the category deletes on cancel and no booking shares the id.
func (r *Reconciler) Cancel(ctx context.Context, category Category, externalID int64, fields *Fields, customer *CustomerFields) Outcome {
	ctx, span := r.start(ctx, "bookings.cancel", category, externalID)
	defer span.End()

	out := r.resolver.Run(ctx, keyFor(category, externalID, fields), func(ctx context.Context, tx Tx, _ bool) (*Change, error) {
		prior, err := r.load(ctx, tx, category, externalID)
		if err != nil {
			return nil, err
		}
		var change *Change
		if prior == nil {
			change, err = r.write(ctx, tx, category, externalID, nil, fields)
		} else {
			change, err = r.cancelKnown(ctx, tx, category, prior, fields)
		}
		if err != nil {
			return nil, err
		}
		return change, r.attachCustomer(ctx, tx, change, customer)
	})
	return r.finish(span, out)
}

// UpsertCustomer reconciles a standalone customer event.
func (r *Reconciler) UpsertCustomer(ctx context.Context, fields *CustomerFields) Outcome {
	ctx, span := bookingsTracer.Start(ctx, "bookings.upsert_customer")
	defer span.End()
	span.SetAttributes(attribute.Int64("bookings.customer_id", fields.ExternalID))

	key := Key{ExternalID: fields.ExternalID, UpdatedAt: fields.UpdatedAt.Value, Customer: true}
	out := r.resolver.Run(ctx, key, func(ctx context.Context, tx Tx, _ bool) (*Change, error) {
		change := &Change{Action: ActionNone}
		return change, r.attachCustomer(ctx, tx, change, fields)
	})
	return r.finish(span, out)
}

func (r *Reconciler) load(ctx context.Context, tx Tx, category Category, externalID int64) (*Record, error) {
	rec, err := tx.GetRecord(ctx, category, externalID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// write performs the insert-or-partial-update of a full event.
func (r *Reconciler) write(ctx context.Context, tx Tx, category Category, externalID int64, prior *Record, fields *Fields) (*Change, error) {
	strategy, err := StrategyFor(category)
	if err != nil {
		return nil, err
	}
	change := &Change{Category: category, Prior: prior.Clone()}

	switch {
	case prior == nil:
		rec := &Record{ExternalID: externalID, Status: StatusNotComplete}
		fields.Apply(rec)
		if rec.ServiceCategory == nil && r.defaultServiceCategory != "" {
			def := r.defaultServiceCategory
			rec.ServiceCategory = &def
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if err := tx.InsertRecord(ctx, category, rec); err != nil {
			return nil, err
		}
		change.Action, change.Record = ActionCreated, rec
	case isStale(prior, fields):
		r.logStale(category, prior, fields)
		change.Action, change.Record = ActionStale, prior
		return change, nil
	default:
		rec := prior.Clone()
		fields.Apply(rec)
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if err := tx.UpdateRecord(ctx, category, rec); err != nil {
			return nil, err
		}
		change.Action, change.Record = ActionUpdated, rec
	}

	if strategy.Promotes {
		promoted, err := r.promote(ctx, tx, externalID)
		if err != nil {
			return nil, err
		}
		change.Promoted = promoted
	}
	return change, nil
}

func (r *Reconciler) cancelKnown(ctx context.Context, tx Tx, category Category, prior *Record, fields *Fields) (*Change, error) {
	strategy, err := StrategyFor(category)
	if err != nil {
		return nil, err
	}
	if !strategy.DeletesOnCancel {
		return r.applyCancellation(ctx, tx, category, prior, fields)
	}
	_, err = tx.GetRecord(ctx, CategoryBooking, prior.ExternalID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := tx.DeleteRecord(ctx, category, prior.ExternalID); err != nil {
			return nil, err
		}
		removed := prior.Clone()
		fields.ApplyCancellation(removed)
		return &Change{Category: category, Action: ActionDeleted, Prior: prior.Clone(), Removed: removed}, nil
	case err != nil:
		return nil, err
	default:
		return r.applyCancellation(ctx, tx, category, prior, fields)
	}
}

// applyCancellation writes only the cancellation subset of fields onto an
// existing row. It never creates one: a nil prior reports ErrNotFound.
func (r *Reconciler) applyCancellation(ctx context.Context, tx Tx, category Category, prior *Record, fields *Fields) (*Change, error) {
	if prior == nil {
		return nil, fmt.Errorf("%w: %s record to cancel", ErrNotFound, category)
	}
	change := &Change{Category: category, Prior: prior.Clone()}
	if isStale(prior, fields) {
		r.logStale(category, prior, fields)
		change.Action, change.Record = ActionStale, prior
		return change, nil
	}
	rec := prior.Clone()
	fields.ApplyCancellation(rec)
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := tx.UpdateRecord(ctx, category, rec); err != nil {
		return nil, err
	}
	change.Action, change.Record = ActionCancelled, rec
	return change, nil
}

// promote converts NOT_COMPLETE reservation rows sharing the booking's id.
func (r *Reconciler) promote(ctx context.Context, tx Tx, externalID int64) ([]Category, error) {
	var promoted []Category
	for _, category := range []Category{CategoryNDISReservation, CategorySalesReservation} {
		rec, err := tx.GetRecord(ctx, category, externalID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusNotComplete {
			continue
		}
		converted := rec.Clone()
		converted.Status = StatusConverted
		if err := tx.UpdateRecord(ctx, category, converted); err != nil {
			return nil, err
		}
		r.logger.Info("reservation converted", "category", category.String(), "external_id", externalID)
		promoted = append(promoted, category)
	}
	return promoted, nil
}

func (r *Reconciler) attachCustomer(ctx context.Context, tx Tx, change *Change, fields *CustomerFields) error {
	if fields == nil || fields.ExternalID <= 0 {
		return nil
	}
	prior, err := tx.GetCustomer(ctx, fields.ExternalID)
	switch {
	case errors.Is(err, ErrNotFound):
		c := &Customer{ExternalID: fields.ExternalID}
		fields.Apply(c)
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		change.Customer, change.CustomerCreated = c, true
		return nil
	case err != nil:
		return err
	}
	if sameInstant(prior.UpdatedAt, fields.UpdatedAt.Value) {
		change.Customer = prior
		return nil
	}
	c := prior.Clone()
	fields.Apply(c)
	if err := tx.UpdateCustomer(ctx, c); err != nil {
		return err
	}
	change.Customer = c
	return nil
}

func (r *Reconciler) logStale(category Category, prior *Record, fields *Fields) {
	r.logger.Warn("stale event ignored",
		"category", category.String(),
		"external_id", prior.ExternalID,
		"stored_updated_at", prior.UpdatedAt,
		"event_updated_at", fields.UpdatedAt.Value,
	)
}

func (r *Reconciler) start(ctx context.Context, name string, category Category, externalID int64) (context.Context, trace.Span) {
	ctx, span := bookingsTracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("bookings.category", category.String()),
		attribute.Int64("bookings.external_id", externalID),
	)
	return ctx, span
}

func (r *Reconciler) finish(span trace.Span, out Outcome) Outcome {
	span.SetAttributes(
		attribute.String("bookings.state", string(out.State)),
		attribute.Bool("bookings.conflict_retried", out.ConflictRetried),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	return out
}

// isStale reports whether the event is strictly older than the stored row.
// Events without a usable updated_at always apply.
func isStale(prior *Record, fields *Fields) bool {
	if prior.UpdatedAt == nil || fields.UpdatedAt.Value == nil {
		return false
	}
	return fields.UpdatedAt.Value.Before(*prior.UpdatedAt)
}

func keyFor(category Category, externalID int64, fields *Fields) Key {
	return Key{Category: category, ExternalID: externalID, UpdatedAt: fields.UpdatedAt.Value}
}
