package handlers

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/search"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func searchRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewBookingSearchHandler(search.NewRepository(db, time.UTC), logging.Discard())
	r := chi.NewRouter()
	r.Get("/", Health("booking-reconciler"))
	r.Get("/booking", h.ListCreatedOn)
	r.Get("/booking/{id}", h.GetBooking)
	r.Get("/booking/was_new_customer/{id}", h.WasNewCustomer)
	r.Get("/booking/search/completed", h.CompletedBetween)
	r.Get("/booking/service_date/search", h.ByEmailInServiceWeek)
	return r, mock
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

var serviceColumns = []string{
	"external_id", "service_date", "first_name", "last_name", "name", "email", "postcode",
	"location", "team_assigned_names", "created_by", "service_category", "service", "frequency",
}

func TestHealth(t *testing.T) {
	router, _ := searchRouter(t)
	rec := get(router, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"booking-reconciler"}`, rec.Body.String())
}

func TestGetBooking(t *testing.T) {
	router, mock := searchRouter(t)

	cols := bookings.RecordColumns()
	row := make([]driver.Value, len(cols))
	for i, c := range cols {
		switch c {
		case "external_id":
			row[i] = int64(42)
		case "status":
			row[i] = "NOT_COMPLETE"
		case "is_first_recurring", "is_new_customer", "was_first_recurring", "was_new_customer":
			row[i] = false
		}
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE external_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE external_id = $1")).
		WithArgs(int64(43)).
		WillReturnRows(sqlmock.NewRows(cols))

	rec := get(router, "/booking/42")
	require.Equal(t, http.StatusOK, rec.Code)
	var got bookings.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(42), got.ExternalID)
	assert.Equal(t, bookings.StatusNotComplete, got.Status)

	rec = get(router, "/booking/43")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Booking not found")

	assert.Equal(t, http.StatusBadRequest, get(router, "/booking/abc").Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWasNewCustomerEndpoint(t *testing.T) {
	router, mock := searchRouter(t)
	mock.ExpectQuery("SELECT was_new_customer FROM bookings").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"was_new_customer"}).AddRow(true))
	mock.ExpectQuery("SELECT was_new_customer FROM bookings").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"was_new_customer"}))

	rec := get(router, "/booking/was_new_customer/7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"was_new_customer":true}`, rec.Body.String())

	rec = get(router, "/booking/was_new_customer/8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"was_new_customer":false}`, rec.Body.String())
}

func TestListCreatedOn(t *testing.T) {
	router, mock := searchRouter(t)
	mock.ExpectQuery("SELECT external_id, service_category, name, location").
		WithArgs("House Clean", "COMPLETED", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "service_category", "name", "location"}).
			AddRow(int64(1), "House Clean", "Jo Bloggs", "Inner West"))

	rec := get(router, "/booking?category=House%20Clean&date=2024-03-01&booking_status=completed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`[{"category":"House Clean","name":"Jo Bloggs","location":"Inner West","booking_id":1}]`,
		rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCreatedOn_BadParams(t *testing.T) {
	router, _ := searchRouter(t)
	for _, path := range []string{
		"/booking?date=2024-03-01&booking_status=completed",
		"/booking?category=x&date=2024-03-01&booking_status=pending",
		"/booking?category=x&date=01/03/2024&booking_status=completed",
	} {
		assert.Equal(t, http.StatusBadRequest, get(router, path).Code, path)
	}
}

func TestCompletedBetween(t *testing.T) {
	router, mock := searchRouter(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1")).
		WithArgs("COMPLETED", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(serviceColumns).
			AddRow(int64(3), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "Jo", "Bloggs", "Jo Bloggs",
				"jo@example.com", "2000", "Sydney CBD", "Team A", "admin", "House Clean", "Standard", "Weekly"))

	rec := get(router, "/booking/search/completed?from=2024-03-01&to=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []search.ServiceRow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-04", *rows[0].ServiceDate)

	assert.Equal(t, http.StatusBadRequest, get(router, "/booking/search/completed?from=2024-03-31&to=2024-03-01").Code)
}

func TestCompletedBetween_DatabaseDown(t *testing.T) {
	router, mock := searchRouter(t)
	mock.ExpectQuery("FROM bookings").WillReturnError(errors.New("connection refused"))

	rec := get(router, "/booking/search/completed?from=2024-03-01&to=2024-03-31")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestByEmailInServiceWeek(t *testing.T) {
	router, mock := searchRouter(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1")).
		WithArgs("jo@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(serviceColumns).
			AddRow(int64(3), time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), "Jo", "Bloggs", nil,
				"jo@example.com", "2000", "Sydney CBD", nil, nil, "House Clean", nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1")).
		WithArgs("nobody@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(serviceColumns))

	rec := get(router, "/booking/service_date/search?service_date=2024-03-06&email=jo@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var found struct {
		Data   search.ServiceRow `json:"data"`
		Status string            `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&found))
	assert.Equal(t, "found", found.Status)
	assert.Equal(t, "Jo Bloggs", found.Data.FullName)

	rec = get(router, "/booking/service_date/search?service_date=2024-03-06&email=nobody@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{},"status":"not found"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest,
		get(router, "/booking/service_date/search?service_date=2024-03-06").Code)
}
