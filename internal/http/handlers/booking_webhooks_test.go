package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/webhooks"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

type stubProcessor struct {
	result   webhooks.Result
	category bookings.Category
	kind     normalize.Kind
	body     string
	calls    int
}

func (s *stubProcessor) ProcessBooking(_ context.Context, category bookings.Category, kind normalize.Kind, body []byte) webhooks.Result {
	s.calls++
	s.category, s.kind, s.body = category, kind, string(body)
	return s.result
}

func (s *stubProcessor) ProcessCustomer(_ context.Context, kind normalize.Kind, body []byte) webhooks.Result {
	s.calls++
	s.kind, s.body = kind, string(body)
	return s.result
}

func webhookRouter(h *BookingWebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/booking/{kind}", h.HandleBooking(bookings.CategoryBooking))
	r.Post("/reservation/ndis/{kind}", h.HandleBooking(bookings.CategoryNDISReservation))
	r.Post("/customer/{kind}", h.HandleCustomer)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, WebhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp WebhookResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	}
	return rec, resp
}

func TestHandleBooking_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     webhooks.Result
		wantCode   int
		wantStatus webhooks.Status
		wantError  bool
	}{
		{
			name: "committed",
			result: webhooks.Result{Status: webhooks.StatusCommitted, ExternalID: 5, Outcome: bookings.Outcome{
				State:  bookings.StateCommitted,
				Change: &bookings.Change{Action: bookings.ActionCreated},
			}},
			wantCode:   http.StatusOK,
			wantStatus: webhooks.StatusCommitted,
		},
		{
			name:       "duplicate",
			result:     webhooks.Result{Status: webhooks.StatusDuplicate, ExternalID: 5},
			wantCode:   http.StatusOK,
			wantStatus: webhooks.StatusDuplicate,
		},
		{
			name:       "ignored",
			result:     webhooks.Result{Status: webhooks.StatusIgnored, ExternalID: 5, Err: normalize.ErrRejected},
			wantCode:   http.StatusOK,
			wantStatus: webhooks.StatusIgnored,
		},
		{
			name:       "invalid",
			result:     webhooks.Result{Status: webhooks.StatusInvalid, Err: &normalize.ValidationError{Field: "id", Reason: "missing"}},
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: webhooks.StatusInvalid,
			wantError:  true,
		},
		{
			name:       "rejected",
			result:     webhooks.Result{Status: webhooks.StatusRejected, ExternalID: 5, Err: bookings.ErrDataConstraint},
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: webhooks.StatusRejected,
			wantError:  true,
		},
		{
			name:       "retry",
			result:     webhooks.Result{Status: webhooks.StatusRetry, ExternalID: 5, Err: errors.New("pool exhausted")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: webhooks.StatusRetry,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{result: tt.result}
			router := webhookRouter(NewBookingWebhookHandler(proc, logging.Discard()))

			rec, resp := post(t, router, "/booking/new", `{"id":5}`)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantError, resp.Error != "")
			if tt.wantStatus == webhooks.StatusRetry {
				assert.Equal(t, "5", rec.Header().Get("Retry-After"))
				assert.NotContains(t, resp.Error, "pool exhausted")
			}
		})
	}
}

func TestHandleBooking_RoutesCategoryAndKind(t *testing.T) {
	proc := &stubProcessor{result: webhooks.Result{Status: webhooks.StatusCommitted}}
	router := webhookRouter(NewBookingWebhookHandler(proc, logging.Discard()))

	rec, _ := post(t, router, "/reservation/ndis/team_changed", `{"id":8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bookings.CategoryNDISReservation, proc.category)
	assert.Equal(t, normalize.KindTeamChanged, proc.kind)
	assert.Equal(t, `{"id":8}`, proc.body)
}

func TestHandleBooking_UnknownKind(t *testing.T) {
	proc := &stubProcessor{}
	router := webhookRouter(NewBookingWebhookHandler(proc, logging.Discard()))

	rec, _ := post(t, router, "/booking/deleted", `{"id":8}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestHandleBooking_BodyTooLarge(t *testing.T) {
	proc := &stubProcessor{}
	h := NewBookingWebhookHandler(proc, logging.Discard())
	h.maxBody = 16

	rec, _ := post(t, webhookRouter(h), "/booking/new", `{"id": 1, "notes": "far too long for the limit"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, proc.calls)
}

func TestHandleCustomer(t *testing.T) {
	proc := &stubProcessor{result: webhooks.Result{Status: webhooks.StatusCommitted, ExternalID: 12}}
	router := webhookRouter(NewBookingWebhookHandler(proc, logging.Discard()))

	rec, resp := post(t, router, "/customer/updated", `{"id":12}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, normalize.KindUpdated, proc.kind)
	assert.Equal(t, int64(12), resp.BookingID)

	rec, _ = post(t, router, "/customer/completed", `{"id":12}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, proc.calls)
}

func TestHandleBooking_EndToEnd(t *testing.T) {
	logger := logging.Discard()
	store := bookings.NewMemoryStore()
	queue := notify.NewMemoryQueue(8)
	proc := webhooks.NewProcessor(webhooks.Config{
		Normalizer: normalize.New(normalize.Options{Logger: logger}),
		Reconciler: bookings.NewReconciler(bookings.NewResolver(store, logger), bookings.Options{Logger: logger}),
		Publisher:  notify.NewPublisher(queue),
		Logger:     logger,
	})
	router := webhookRouter(NewBookingWebhookHandler(proc, logger))

	body := `{"id": 300, "updated_at": "2024-03-01T09:00:00Z", "service_category": "House Clean"}`
	rec, resp := post(t, router, "/booking/completed", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhooks.StatusCommitted, resp.Status)
	assert.Equal(t, bookings.ActionCreated, resp.Action)
	assert.Equal(t, int64(300), resp.BookingID)

	stored, ok := store.Record(bookings.CategoryBooking, 300)
	require.True(t, ok)
	assert.Equal(t, bookings.StatusCompleted, stored.Status)

	rec, resp = post(t, router, "/booking/updated", `{"updated_at": "2024-03-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, webhooks.StatusInvalid, resp.Status)
}
