package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// State is the terminal state of one event's commit.
type State string

const (
	StateCommitted        State = "COMMITTED"
	StateDuplicateIgnored State = "DUPLICATE_IGNORED"
	StateFatal            State = "FATAL"
	StateRetryableInfra   State = "RETRYABLE_INFRA_FAILURE"
)

// ErrConflictPersisted is reported when the conflict retry hits a second
// unique violation.
var ErrConflictPersisted = errors.New("bookings: unique violation persisted after conflict retry")

// Attempt performs one transaction's worth of work against tx. retry is true
// on the conflict-retry pass, which always runs in a fresh transaction.
type Attempt func(ctx context.Context, tx Tx, retry bool) (*Change, error)

// Key identifies the row an attempt writes and the payload version used to
// tell duplicate deliveries from genuine races.
type Key struct {
	Category   Category
	ExternalID int64
	UpdatedAt  *time.Time
	// Customer keys address the customers table instead of a category.
	Customer bool
}

func (k Key) table() string {
	if k.Customer {
		return "customer"
	}
	return k.Category.String()
}

// Outcome is what the Resolver reports for one event.
type Outcome struct {
	State State
	// Change describes what was written. Nil unless State is COMMITTED or
	// DUPLICATE_IGNORED.
	Change *Change
	// ConflictRetried is true when the commit went through CONFLICT_RETRY.
	ConflictRetried bool
	Err             error
}

// NeedsAlert reports whether an operator must see this outcome.
func (o Outcome) NeedsAlert() bool {
	return o.State == StateFatal
}

// Resolver drives the commit state machine for an attempt.
type Resolver struct {
	store  Store
	logger *logging.Logger
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Store, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("bookings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Run executes attempt and resolves its failure, if any, into one of the
// terminal states.
func (r *Resolver) Run(ctx context.Context, key Key, attempt Attempt) Outcome {
	change, err := r.try(ctx, attempt, false)
	if err == nil {
		return Outcome{State: StateCommitted, Change: change}
	}

	state := Classify(err)
	if !errors.Is(err, ErrUniqueViolation) {
		r.logFailure(key, state, err)
		return Outcome{State: state, Err: err}
	}

	won, rerr := r.readWinner(ctx, key)
	switch {
	case rerr == nil:
		if sameInstant(won.updatedAt(), key.UpdatedAt) {
			r.logger.Info("duplicate delivery ignored",
				"table", key.table(), "external_id", key.ExternalID)
			return Outcome{State: StateDuplicateIgnored, Change: won.change(key)}
		}
	case errors.Is(rerr, ErrNotFound):
		// The violation came from another table written by the same attempt.
	default:
		state = Classify(rerr)
		r.logFailure(key, state, rerr)
		return Outcome{State: state, Err: rerr}
	}

	r.logger.Info("concurrent insert detected, retrying as update",
		"table", key.table(), "external_id", key.ExternalID)
	change, err = r.try(ctx, attempt, true)
	if err == nil {
		return Outcome{State: StateCommitted, Change: change, ConflictRetried: true}
	}
	if errors.Is(err, ErrUniqueViolation) {
		err = fmt.Errorf("%w: %w", ErrConflictPersisted, err)
		r.logFailure(key, StateFatal, err)
		return Outcome{State: StateFatal, Err: err, ConflictRetried: true}
	}
	state = Classify(err)
	r.logFailure(key, state, err)
	return Outcome{State: state, Err: err, ConflictRetried: true}
}

// Classify maps a store error onto the terminal state it leads to. Unique
// violations are reported as FATAL here because only Run may retry them.
func Classify(err error) State {
	switch {
	case err == nil:
		return StateCommitted
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StateRetryableInfra
	default:
		return StateFatal
	}
}

func (r *Resolver) try(ctx context.Context, attempt Attempt, retry bool) (*Change, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	change, err := attempt(ctx, tx, retry)
	if err != nil {
		r.rollback(ctx, tx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		r.rollback(ctx, tx)
		return nil, err
	}
	return change, nil
}

// winner is the row that beat this event's insert.
type winner struct {
	record   *Record
	customer *Customer
}

func (w winner) updatedAt() *time.Time {
	if w.customer != nil {
		return w.customer.UpdatedAt
	}
	return w.record.UpdatedAt
}

func (w winner) change(key Key) *Change {
	if w.customer != nil {
		return &Change{Action: ActionNone, Customer: w.customer}
	}
	return &Change{Category: key.Category, Action: ActionNone, Prior: w.record, Record: w.record}
}

func (r *Resolver) readWinner(ctx context.Context, key Key) (winner, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return winner{}, err
	}
	defer r.rollback(ctx, tx)
	if key.Customer {
		c, err := tx.GetCustomer(ctx, key.ExternalID)
		return winner{customer: c}, err
	}
	rec, err := tx.GetRecord(ctx, key.Category, key.ExternalID)
	return winner{record: rec}, err
}

func (r *Resolver) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTxDone) {
		r.logger.Warn("rollback failed", "error", err)
	}
}

func (r *Resolver) logFailure(key Key, state State, err error) {
	level := r.logger.Error
	if state == StateRetryableInfra {
		level = r.logger.Warn
	}
	level("commit failed",
		"table", key.table(),
		"external_id", key.ExternalID,
		"state", string(state),
		"error", err,
	)
}
