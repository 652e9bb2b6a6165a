package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/webhooks"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

const (
	defaultMaxWebhookBody = 1 << 20
	retryAfterSeconds     = "5"
)

// WebhookProcessor runs inbound events through the reconciliation pipeline.
type WebhookProcessor interface {
	ProcessBooking(ctx context.Context, category bookings.Category, kind normalize.Kind, body []byte) webhooks.Result
	ProcessCustomer(ctx context.Context, kind normalize.Kind, body []byte) webhooks.Result
}

// BookingWebhookHandler accepts booking, reservation and customer webhooks.
type BookingWebhookHandler struct {
	processor WebhookProcessor
	logger    *logging.Logger
	maxBody   int64
}

// NewBookingWebhookHandler creates the webhook handler.
func NewBookingWebhookHandler(processor WebhookProcessor, logger *logging.Logger) *BookingWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingWebhookHandler{processor: processor, logger: logger, maxBody: defaultMaxWebhookBody}
}

// WebhookResponse is the acknowledgement body.
type WebhookResponse struct {
	Status          webhooks.Status `json:"status"`
	Action          bookings.Action `json:"action,omitempty"`
	BookingID       int64           `json:"booking_id,omitempty"`
	ConflictRetried bool            `json:"conflict_retried,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// HandleBooking returns the handler for one record category.
// POST /booking/{kind}, /reservation/ndis/{kind}, /reservation/sales/{kind}
func (h *BookingWebhookHandler) HandleBooking(category bookings.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := normalize.ParseKind(chi.URLParam(r, "kind"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown event kind"})
			return
		}
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}
		h.respond(w, h.processor.ProcessBooking(r.Context(), category, kind, body))
	}
}

// HandleCustomer accepts customer webhooks.
// POST /customer/{kind}
func (h *BookingWebhookHandler) HandleCustomer(w http.ResponseWriter, r *http.Request) {
	kind, ok := normalize.ParseKind(chi.URLParam(r, "kind"))
	if !ok || (kind != normalize.KindNew && kind != normalize.KindUpdated) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown event kind"})
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	h.respond(w, h.processor.ProcessCustomer(r.Context(), kind, body))
}

func (h *BookingWebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return nil, false
		}
		h.logger.Warn("failed to read webhook body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return nil, false
	}
	return body, true
}

func (h *BookingWebhookHandler) respond(w http.ResponseWriter, res webhooks.Result) {
	resp := WebhookResponse{
		Status:          res.Status,
		Action:          res.Action(),
		BookingID:       res.ExternalID,
		ConflictRetried: res.Outcome.ConflictRetried,
	}
	status := http.StatusOK
	switch res.Status {
	case webhooks.StatusInvalid, webhooks.StatusRejected:
		status = http.StatusUnprocessableEntity
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	case webhooks.StatusRetry:
		status = http.StatusServiceUnavailable
		resp.Error = "temporarily unavailable"
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, resp)
}
