// Package search serves the read side of the bookings table: lookups by id
// and the date-range searches used by reporting and the feedback form.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
)

// ErrNotFound is returned when no booking matches.
var ErrNotFound = errors.New("search: booking not found")

// Summary is one row of the created-on listing.
type Summary struct {
	Category  *string `json:"category"`
	Name      *string `json:"name"`
	Location  *string `json:"location"`
	BookingID int64   `json:"booking_id"`
}

// ServiceRow describes a booking by its service details.
type ServiceRow struct {
	BookingID       int64   `json:"booking_id"`
	DateReceived    *string `json:"date_received"`
	ServiceDate     *string `json:"service_date"`
	FullName        string  `json:"full_name"`
	Email           *string `json:"email"`
	Postcode        *string `json:"postcode"`
	LocationName    *string `json:"location_name"`
	TeamAssigned    *string `json:"team_assigned"`
	CreatedBy       *string `json:"created_by"`
	ServiceCategory *string `json:"service_category"`
	Service         *string `json:"service"`
	Frequency       *string `json:"frequency"`
}

// Repository queries the bookings table.
type Repository struct {
	db       *sql.DB
	location *time.Location
}

// NewRepository creates a repository. loc is the business timezone used to
// turn calendar days into instants; nil means UTC.
func NewRepository(db *sql.DB, loc *time.Location) *Repository {
	if db == nil {
		panic("search: sql db required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{db: db, location: loc}
}

var getBookingSQL = fmt.Sprintf("SELECT %s FROM bookings WHERE external_id = $1",
	strings.Join(bookings.RecordColumns(), ", "))

// Get returns the full booking row.
func (r *Repository) Get(ctx context.Context, externalID int64) (*bookings.Record, error) {
	var rec bookings.Record
	err := r.db.QueryRowContext(ctx, getBookingSQL, externalID).Scan(bookings.RecordScanTargets(&rec)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("search: get booking %d: %w", externalID, err)
	}
	return &rec, nil
}

// WasNewCustomer reports the sticky new-customer flag. Unknown bookings
// report false.
func (r *Repository) WasNewCustomer(ctx context.Context, externalID int64) (bool, error) {
	var was bool
	err := r.db.QueryRowContext(ctx,
		`SELECT was_new_customer FROM bookings WHERE external_id = $1`, externalID).Scan(&was)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("search: was_new_customer %d: %w", externalID, err)
	}
	return was, nil
}

// CreatedOn lists bookings of one service category and status created during
// the given local calendar day.
func (r *Repository) CreatedOn(ctx context.Context, serviceCategory string, day time.Time, status bookings.Status) ([]Summary, error) {
	start, end := r.dayBounds(day)
	rows, err := r.db.QueryContext(ctx, `
		SELECT external_id, service_category, name, location
		FROM bookings
		WHERE service_category = $1 AND status = $2
		  AND created_at >= $3 AND created_at < $4
		ORDER BY created_at ASC`,
		serviceCategory, string(status), start, end)
	if err != nil {
		return nil, fmt.Errorf("search: created on: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.BookingID, &s.Category, &s.Name, &s.Location); err != nil {
			return nil, fmt.Errorf("search: scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: created on: %w", err)
	}
	return out, nil
}

const serviceRowColumns = `external_id, service_date, first_name, last_name, name, email, postcode,
		location, team_assigned_names, created_by, service_category, service, frequency`

// CompletedBetween lists COMPLETED bookings whose service date falls within
// [from, to], both inclusive calendar dates.
func (r *Repository) CompletedBetween(ctx context.Context, from, to time.Time) ([]ServiceRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+serviceRowColumns+`
		FROM bookings
		WHERE status = $1 AND service_date >= $2 AND service_date <= $3
		ORDER BY service_date ASC, external_id ASC`,
		string(bookings.StatusCompleted), dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("search: completed between: %w", err)
	}
	defer rows.Close()

	out := []ServiceRow{}
	for rows.Next() {
		row, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		// the booking platform does not send a received date; reporting
		// keys on the service date for both
		row.DateReceived = row.ServiceDate
		out = append(out, row.ServiceRow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: completed between: %w", err)
	}
	return out, nil
}

// ByEmailInServiceWeek finds a booking for email whose service date lies in
// the Monday to Sunday week containing serviceDate.
func (r *Repository) ByEmailInServiceWeek(ctx context.Context, email string, serviceDate time.Time) (*ServiceRow, error) {
	start, end := WeekBounds(serviceDate)
	row, err := scanServiceRow(r.db.QueryRowContext(ctx, `
		SELECT `+serviceRowColumns+`
		FROM bookings
		WHERE email = $1 AND service_date >= $2 AND service_date <= $3
		ORDER BY service_date ASC, external_id ASC
		LIMIT 1`,
		email, start, end))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// full_name here is built from the parts, matching what the feedback
	// form shows
	row.FullName = strings.TrimSpace(row.firstName + " " + row.lastName)
	return &row.ServiceRow, nil
}

// WeekBounds returns the Monday and Sunday of the week containing d.
func WeekBounds(d time.Time) (time.Time, time.Time) {
	d = dateOnly(d)
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

func (r *Repository) dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, r.location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type scanner interface {
	Scan(dest ...any) error
}

type serviceRow struct {
	ServiceRow
	firstName string
	lastName  string
}

func scanServiceRow(s scanner) (*serviceRow, error) {
	var (
		row                   serviceRow
		serviceDate           *time.Time
		first, last, fullName sql.NullString
	)
	err := s.Scan(&row.BookingID, &serviceDate, &first, &last, &fullName, &row.Email, &row.Postcode,
		&row.LocationName, &row.TeamAssigned, &row.CreatedBy, &row.ServiceCategory, &row.Service, &row.Frequency)
	if err != nil {
		return nil, fmt.Errorf("search: scan service row: %w", err)
	}
	if serviceDate != nil {
		iso := serviceDate.Format("2006-01-02")
		row.ServiceDate = &iso
	}
	row.firstName = first.String
	row.lastName = last.String
	row.FullName = fullName.String
	return &row, nil
}
