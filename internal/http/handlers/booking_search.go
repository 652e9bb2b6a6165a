package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/search"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

const dateLayout = "2006-01-02"

// BookingSearch is the read side used by the search endpoints.
type BookingSearch interface {
	Get(ctx context.Context, externalID int64) (*bookings.Record, error)
	WasNewCustomer(ctx context.Context, externalID int64) (bool, error)
	CreatedOn(ctx context.Context, serviceCategory string, day time.Time, status bookings.Status) ([]search.Summary, error)
	CompletedBetween(ctx context.Context, from, to time.Time) ([]search.ServiceRow, error)
	ByEmailInServiceWeek(ctx context.Context, email string, serviceDate time.Time) (*search.ServiceRow, error)
}

// BookingSearchHandler serves booking lookups.
type BookingSearchHandler struct {
	repo   BookingSearch
	logger *logging.Logger
}

// NewBookingSearchHandler creates a search handler.
func NewBookingSearchHandler(repo BookingSearch, logger *logging.Logger) *BookingSearchHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingSearchHandler{repo: repo, logger: logger}
}

// ListCreatedOn lists bookings created on a local calendar day.
// GET /booking?category=House%20Clean&date=2024-03-01&booking_status=completed
func (h *BookingSearchHandler) ListCreatedOn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := strings.TrimSpace(q.Get("category"))
	status := bookings.Status(strings.ToUpper(strings.TrimSpace(q.Get("booking_status"))))
	if category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "category is required"})
		return
	}
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking_status"})
		return
	}
	day, ok := parseDateParam(w, q.Get("date"), "date")
	if !ok {
		return
	}

	rows, err := h.repo.CreatedOn(r.Context(), category, day, status)
	if err != nil {
		h.unavailable(w, "list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetBooking returns one booking.
// GET /booking/{id}
func (h *BookingSearchHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	rec, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, search.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Booking not found"})
		return
	}
	if err != nil {
		h.unavailable(w, "get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// WasNewCustomer reports whether the booking was the customer's first.
// GET /booking/was_new_customer/{id}
func (h *BookingSearchHandler) WasNewCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	was, err := h.repo.WasNewCustomer(r.Context(), id)
	if err != nil {
		h.unavailable(w, "was new customer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"was_new_customer": was})
}

// CompletedBetween lists completed bookings by service date.
// GET /booking/search/completed?from=2024-03-01&to=2024-03-31
func (h *BookingSearchHandler) CompletedBetween(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := parseDateParam(w, q.Get("from"), "from")
	if !ok {
		return
	}
	to, ok := parseDateParam(w, q.Get("to"), "to")
	if !ok {
		return
	}
	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must not be before from"})
		return
	}

	rows, err := h.repo.CompletedBetween(r.Context(), from, to)
	if err != nil {
		h.unavailable(w, "completed bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// serviceWeekResponse keeps the shape the feedback form expects: a miss is
// still a 200 with status "not found".
type serviceWeekResponse struct {
	Data   any    `json:"data"`
	Status string `json:"status"`
}

// ByEmailInServiceWeek finds a customer's booking in the week of a service date.
// GET /booking/service_date/search?service_date=2024-03-06&email=jo@example.com
func (h *BookingSearchHandler) ByEmailInServiceWeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := strings.TrimSpace(q.Get("email"))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}
	serviceDate, ok := parseDateParam(w, q.Get("service_date"), "service_date")
	if !ok {
		return
	}

	row, err := h.repo.ByEmailInServiceWeek(r.Context(), email, serviceDate)
	if errors.Is(err, search.ErrNotFound) {
		writeJSON(w, http.StatusOK, serviceWeekResponse{Data: map[string]any{}, Status: "not found"})
		return
	}
	if err != nil {
		h.unavailable(w, "service week search", err)
		return
	}
	writeJSON(w, http.StatusOK, serviceWeekResponse{Data: row, Status: "found"})
}

func (h *BookingSearchHandler) unavailable(w http.ResponseWriter, op string, err error) {
	h.logger.Error("booking search failed", "op", op, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Database temporarily unavailable"})
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
		return 0, false
	}
	return id, true
}

func parseDateParam(w http.ResponseWriter, value, name string) (time.Time, bool) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

// Health reports liveness.
// GET /
func Health(appName string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": appName})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
