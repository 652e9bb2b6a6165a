package bookings

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no row exists for the external id.
	ErrNotFound = errors.New("bookings: record not found")
	// ErrUniqueViolation marks a losing concurrent insert on an external id.
	ErrUniqueViolation = errors.New("bookings: unique violation")
	// ErrDataConstraint marks a value the store refused after normalization.
	ErrDataConstraint = errors.New("bookings: data constraint violated")
	// ErrUnavailable marks a transient infrastructure failure.
	ErrUnavailable = errors.New("bookings: store unavailable")
	// ErrTxDone is returned by Rollback after the transaction has finished.
	ErrTxDone = errors.New("bookings: transaction already closed")
)

// Store opens transactions against the record tables.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work. Implementations classify their failures into the
// package sentinel errors so the Resolver can decide the outcome.
type Tx interface {
	GetRecord(ctx context.Context, category Category, externalID int64) (*Record, error)
	InsertRecord(ctx context.Context, category Category, rec *Record) error
	UpdateRecord(ctx context.Context, category Category, rec *Record) error
	DeleteRecord(ctx context.Context, category Category, externalID int64) error

	GetCustomer(ctx context.Context, externalID int64) (*Customer, error)
	InsertCustomer(ctx context.Context, c *Customer) error
	UpdateCustomer(ctx context.Context, c *Customer) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
