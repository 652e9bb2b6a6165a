package bookings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// txBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists records with pgx. Every failure is classified into
// the package sentinels before it leaves the store.
type PostgresStore struct {
	db txBeginner
}

// NewPostgresStore initializes a store backed by a pgx pool.
func NewPostgresStore(db txBeginner) *PostgresStore {
	if db == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresStore{db: db}
}

// Begin opens a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("bookings: begin: %w", err))
	}
	return &pgTx{tx: tx}, nil
}

type column[T any] struct {
	name  string
	scan  func(*T) any
	value func(*T) any
}

func field[T, F any](name string, ref func(*T) *F) column[T] {
	return column[T]{
		name:  name,
		scan:  func(v *T) any { return ref(v) },
		value: func(v *T) any { return *ref(v) },
	}
}

var recordColumns = []column[Record]{
	field("external_id", func(r *Record) *int64 { return &r.ExternalID }),
	field("status", func(r *Record) *Status { return &r.Status }),
	field("created_at", func(r *Record) **time.Time { return &r.CreatedAt }),
	field("updated_at", func(r *Record) **time.Time { return &r.UpdatedAt }),
	field("service_date", func(r *Record) **time.Time { return &r.ServiceDate }),
	field("next_booking_date", func(r *Record) **time.Time { return &r.NextBookingDate }),
	field("cancellation_date", func(r *Record) **time.Time { return &r.CancellationDate }),
	field("cancellation_datetime", func(r *Record) **time.Time { return &r.CancellationDatetime }),
	field("final_price", func(r *Record) **int64 { return &r.FinalPrice }),
	field("extras_price", func(r *Record) **int64 { return &r.ExtrasPrice }),
	field("subtotal", func(r *Record) **int64 { return &r.Subtotal }),
	field("tip", func(r *Record) **int64 { return &r.Tip }),
	field("discount_from_code", func(r *Record) **int64 { return &r.DiscountFromCode }),
	field("giftcard_amount", func(r *Record) **int64 { return &r.GiftcardAmount }),
	field("team_share", func(r *Record) **int64 { return &r.TeamShare }),
	field("cancellation_fee", func(r *Record) **int64 { return &r.CancellationFee }),
	field("price_adjustment", func(r *Record) **int64 { return &r.PriceAdjustment }),
	field("pricing_parameters_price", func(r *Record) **int64 { return &r.PricingParametersPrice }),
	field("service_time", func(r *Record) **string { return &r.ServiceTime }),
	field("duration", func(r *Record) **string { return &r.Duration }),
	field("payment_method", func(r *Record) **string { return &r.PaymentMethod }),
	field("frequency", func(r *Record) **string { return &r.Frequency }),
	field("discount_code", func(r *Record) **string { return &r.DiscountCode }),
	field("team_assigned_names", func(r *Record) **string { return &r.TeamAssignedNames }),
	field("team_assigned_ids", func(r *Record) **string { return &r.TeamAssignedIDs }),
	field("team_share_summary", func(r *Record) **string { return &r.TeamShareSummary }),
	field("team_has_key", func(r *Record) **string { return &r.TeamHasKey }),
	field("team_requested", func(r *Record) **string { return &r.TeamRequested }),
	field("created_by", func(r *Record) **string { return &r.CreatedBy }),
	field("service_category", func(r *Record) **string { return &r.ServiceCategory }),
	field("service", func(r *Record) **string { return &r.Service }),
	field("customer_notes", func(r *Record) **string { return &r.CustomerNotes }),
	field("staff_notes", func(r *Record) **string { return &r.StaffNotes }),
	field("cancellation_type", func(r *Record) **string { return &r.CancellationType }),
	field("cancelled_by", func(r *Record) **string { return &r.CancelledBy }),
	field("cancellation_reason", func(r *Record) **string { return &r.CancellationReason }),
	field("price_adjustment_comment", func(r *Record) **string { return &r.PriceAdjustmentComment }),
	field("extras", func(r *Record) **string { return &r.Extras }),
	field("source", func(r *Record) **string { return &r.Source }),
	field("pricing_parameters", func(r *Record) **string { return &r.PricingParameters }),
	field("is_first_recurring", func(r *Record) *bool { return &r.IsFirstRecurring }),
	field("is_new_customer", func(r *Record) *bool { return &r.IsNewCustomer }),
	field("was_first_recurring", func(r *Record) *bool { return &r.WasFirstRecurring }),
	field("was_new_customer", func(r *Record) *bool { return &r.WasNewCustomer }),
	field("sms_notifications_enabled", func(r *Record) **bool { return &r.SMSNotificationsEnabled }),
	field("customer_external_id", func(r *Record) **int64 { return &r.CustomerExternalID }),
	field("first_name", func(r *Record) **string { return &r.FirstName }),
	field("last_name", func(r *Record) **string { return &r.LastName }),
	field("name", func(r *Record) **string { return &r.Name }),
	field("company_name", func(r *Record) **string { return &r.CompanyName }),
	field("email", func(r *Record) **string { return &r.Email }),
	field("phone", func(r *Record) **string { return &r.Phone }),
	field("address", func(r *Record) **string { return &r.Address }),
	field("city", func(r *Record) **string { return &r.City }),
	field("state", func(r *Record) **string { return &r.State }),
	field("postcode", func(r *Record) **string { return &r.Postcode }),
	field("location", func(r *Record) **string { return &r.Location }),
	field("lead_source", func(r *Record) **string { return &r.LeadSource }),
	field("booked_by", func(r *Record) **string { return &r.BookedBy }),
	field("invoice_tobe_emailed", func(r *Record) **bool { return &r.InvoiceToBeEmailed }),
	field("invoice_name", func(r *Record) **string { return &r.InvoiceName }),
	field("ndis_who_pays", func(r *Record) **string { return &r.NDISWhoPays }),
	field("invoice_email", func(r *Record) **string { return &r.InvoiceEmail }),
	field("last_service", func(r *Record) **string { return &r.LastService }),
	field("invoice_reference", func(r *Record) **string { return &r.InvoiceReference }),
	field("invoice_reference_extra", func(r *Record) **string { return &r.InvoiceReferenceExtra }),
	field("ndis_reference", func(r *Record) **string { return &r.NDISReference }),
	field("flexible_date_time", func(r *Record) **string { return &r.FlexibleDateTime }),
	field("hourly_notes", func(r *Record) **string { return &r.HourlyNotes }),
}

var customerColumns = []column[Customer]{
	field("external_id", func(c *Customer) *int64 { return &c.ExternalID }),
	field("created_at", func(c *Customer) **time.Time { return &c.CreatedAt }),
	field("updated_at", func(c *Customer) **time.Time { return &c.UpdatedAt }),
	field("title", func(c *Customer) **string { return &c.Title }),
	field("first_name", func(c *Customer) **string { return &c.FirstName }),
	field("last_name", func(c *Customer) **string { return &c.LastName }),
	field("name", func(c *Customer) **string { return &c.Name }),
	field("email", func(c *Customer) **string { return &c.Email }),
	field("phone", func(c *Customer) **string { return &c.Phone }),
	field("address", func(c *Customer) **string { return &c.Address }),
	field("city", func(c *Customer) **string { return &c.City }),
	field("state", func(c *Customer) **string { return &c.State }),
	field("company_name", func(c *Customer) **string { return &c.CompanyName }),
	field("postcode", func(c *Customer) **string { return &c.Postcode }),
	field("location", func(c *Customer) **string { return &c.Location }),
	field("tags", func(c *Customer) **string { return &c.Tags }),
	field("notes", func(c *Customer) **string { return &c.Notes }),
}

// RecordColumns returns the column list shared by the three record tables.
func RecordColumns() []string {
	return columnNames(recordColumns)
}

// RecordScanTargets returns pointers into rec in RecordColumns order, for
// readers that select full rows outside a transaction.
func RecordScanTargets(rec *Record) []any {
	return scanTargets(recordColumns, rec)
}

func columnNames[T any](cols []column[T]) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

func scanTargets[T any](cols []column[T], v *T) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c.scan(v)
	}
	return out
}

func columnValues[T any](cols []column[T], v *T) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c.value(v)
	}
	return out
}

func selectSQL[T any](table string, cols []column[T]) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE external_id = $1 FOR UPDATE",
		strings.Join(columnNames(cols), ", "), table)
}

func insertSQL[T any](table string, cols []column[T]) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columnNames(cols), ", "), strings.Join(placeholders, ", "))
}

// updateSQL assumes external_id is the first column.
func updateSQL[T any](table string, cols []column[T]) string {
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+2))
	}
	return fmt.Sprintf("UPDATE %s SET %s, row_updated_at = now() WHERE external_id = $1",
		table, strings.Join(sets, ", "))
}

type pgTx struct {
	tx pgx.Tx
}

func tableFor(category Category) (string, error) {
	strategy, err := StrategyFor(category)
	if err != nil {
		return "", err
	}
	return strategy.Table, nil
}

func (t *pgTx) GetRecord(ctx context.Context, category Category, externalID int64) (*Record, error) {
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := t.tx.QueryRow(ctx, selectSQL(table, recordColumns), externalID).Scan(scanTargets(recordColumns, &rec)...); err != nil {
		return nil, classifyPgError(fmt.Errorf("bookings: select %s: %w", table, err))
	}
	return &rec, nil
}

func (t *pgTx) InsertRecord(ctx context.Context, category Category, rec *Record) error {
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, insertSQL(table, recordColumns), columnValues(recordColumns, rec)...); err != nil {
		return classifyPgError(fmt.Errorf("bookings: insert %s: %w", table, err))
	}
	return nil
}

func (t *pgTx) UpdateRecord(ctx context.Context, category Category, rec *Record) error {
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, updateSQL(table, recordColumns), columnValues(recordColumns, rec)...)
	if err != nil {
		return classifyPgError(fmt.Errorf("bookings: update %s: %w", table, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteRecord(ctx context.Context, category Category, externalID int64) error {
	table, err := tableFor(category)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE external_id = $1", table), externalID)
	if err != nil {
		return classifyPgError(fmt.Errorf("bookings: delete %s: %w", table, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetCustomer(ctx context.Context, externalID int64) (*Customer, error) {
	var c Customer
	if err := t.tx.QueryRow(ctx, selectSQL("customers", customerColumns), externalID).Scan(scanTargets(customerColumns, &c)...); err != nil {
		return nil, classifyPgError(fmt.Errorf("bookings: select customers: %w", err))
	}
	return &c, nil
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *Customer) error {
	if _, err := t.tx.Exec(ctx, insertSQL("customers", customerColumns), columnValues(customerColumns, c)...); err != nil {
		return classifyPgError(fmt.Errorf("bookings: insert customers: %w", err))
	}
	return nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, c *Customer) error {
	if _, err := t.tx.Exec(ctx, updateSQL("customers", customerColumns), columnValues(customerColumns, c)...); err != nil {
		return classifyPgError(fmt.Errorf("bookings: update customers: %w", err))
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return classifyPgError(fmt.Errorf("bookings: commit: %w", err))
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return classifyPgError(fmt.Errorf("bookings: rollback: %w", err))
	}
	return nil
}

// classifyPgError wraps err with the sentinel matching its cause.
func classifyPgError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, pgx.ErrTxClosed):
		return fmt.Errorf("%w: %w", ErrTxDone, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w (%s): %w", ErrUniqueViolation, pgErr.ConstraintName, err)
		case pgErr.Code == "23502", pgErr.Code == "23514", strings.HasPrefix(pgErr.Code, "22"):
			return fmt.Errorf("%w (%s): %w", ErrDataConstraint, pgErr.Code, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "53300",
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return fmt.Errorf("%w (%s): %w", ErrUnavailable, pgErr.Code, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
