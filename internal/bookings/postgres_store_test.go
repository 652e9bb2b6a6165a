package bookings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// recordRow builds a mock row for rec using exactly typed column values.
func recordRow(rec *Record) []any {
	return columnValues(recordColumns, rec)
}

func TestPostgresStoreGetRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewPostgresStore(mock)
	ctx := context.Background()

	updated := time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC)
	want := &Record{ExternalID: 42, Status: StatusCompleted, UpdatedAt: &updated, Name: strPtr("Jo"), FinalPrice: int64Ptr(6764)}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT external_id, status, .* FROM bookings WHERE external_id = \\$1 FOR UPDATE").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(RecordColumns()).AddRow(recordRow(want)...))
	mock.ExpectQuery("FROM sales_reservations").
		WithArgs(int64(43)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	got, err := tx.GetRecord(ctx, CategoryBooking, 42)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != StatusCompleted || *got.Name != "Jo" || *got.FinalPrice != 6764 {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := tx.GetRecord(ctx, CategorySalesReservation, 43); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreWritesClassifyErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewPostgresStore(mock)
	ctx := context.Background()
	rec := &Record{ExternalID: 7, Status: StatusNotComplete}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ndis_reservations").
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ndis_reservations_external_id_key"})
	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnError(&pgconn.PgError{Code: "22001", Message: "value too long for type character varying(64)"})
	mock.ExpectExec("UPDATE bookings SET status = \\$2").
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("DELETE FROM sales_reservations WHERE external_id = \\$1").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "57P01"})

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.InsertRecord(ctx, CategoryNDISReservation, rec); !errors.Is(err, ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if err := tx.InsertRecord(ctx, CategoryBooking, rec); !errors.Is(err, ErrDataConstraint) {
		t.Fatalf("expected data constraint, got %v", err)
	}
	if err := tx.UpdateRecord(ctx, CategoryBooking, rec); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on zero rows, got %v", err)
	}
	if err := tx.DeleteRecord(ctx, CategorySalesReservation, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable on admin shutdown, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreBeginFailureIsRetryable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewPostgresStore(mock)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("dial tcp 10.0.0.5:5432: %w", io.EOF))

	if _, err := store.Begin(context.Background()); Classify(err) != StateRetryableInfra {
		t.Fatalf("expected retryable classification, got %v", err)
	}
}

func TestCustomerUpsertThroughPostgresStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	rec := NewReconciler(NewResolver(NewPostgresStore(mock), nil), Options{})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM customers WHERE external_id = \\$1").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO customers").
		WithArgs(anyArgs(len(customerColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	out := rec.UpsertCustomer(context.Background(), &CustomerFields{ExternalID: 9, Email: Value("c@example.com")})
	if out.State != StateCommitted || !out.Change.CustomerCreated {
		t.Fatalf("expected committed insert, got %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClassifyPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, ErrUniqueViolation},
		{"not null", &pgconn.PgError{Code: "23502"}, ErrDataConstraint},
		{"check", &pgconn.PgError{Code: "23514"}, ErrDataConstraint},
		{"numeric out of range", &pgconn.PgError{Code: "22003"}, ErrDataConstraint},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrUnavailable},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrUnavailable},
		{"eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), ErrUnavailable},
		{"tx closed", pgx.ErrTxClosed, ErrTxDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPgError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classifyPgError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	other := &pgconn.PgError{Code: "42P01"}
	if got := classifyPgError(other); Classify(got) != StateFatal {
		t.Fatalf("expected undefined table to be fatal, got %v", got)
	}
}

func TestUpdateSQLCoversEveryColumn(t *testing.T) {
	sql := updateSQL("bookings", recordColumns)
	if !strings.HasPrefix(sql, "UPDATE bookings SET status = $2,") {
		t.Fatalf("unexpected update prefix: %s", sql)
	}
	want := fmt.Sprintf("hourly_notes = $%d", len(recordColumns))
	if !strings.Contains(sql, want) {
		t.Fatalf("expected %q in %s", want, sql)
	}

	var rec Record
	targets := scanTargets(recordColumns, &rec)
	values := columnValues(recordColumns, &rec)
	for i := range targets {
		if reflect.TypeOf(targets[i]).Elem() != reflect.TypeOf(values[i]) && values[i] != nil {
			t.Fatalf("column %s: scan target %T does not match value %T", recordColumns[i].name, targets[i], values[i])
		}
	}
}
