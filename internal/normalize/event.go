package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
)

// Kind is the lifecycle event named by the inbound route.
type Kind string

const (
	KindNew          Kind = "new"
	KindUpdated      Kind = "updated"
	KindCompleted    Kind = "completed"
	KindCancellation Kind = "cancellation"
	KindTeamChanged  Kind = "team_changed"
	KindRestored     Kind = "restored"
)

// ParseKind validates a route segment.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindNew, KindUpdated, KindCompleted, KindCancellation, KindTeamChanged, KindRestored:
		return k, true
	}
	return "", false
}

// Status returns the status the route forces onto the record. ok is false
// for updated and team_changed, which only carry the payload's own status.
func (k Kind) Status() (bookings.Status, bool) {
	switch k {
	case KindNew, KindRestored:
		return bookings.StatusNotComplete, true
	case KindCompleted:
		return bookings.StatusCompleted, true
	case KindCancellation:
		return bookings.StatusCancelled, true
	}
	return "", false
}

// UpsertsCustomer reports whether the nested customer is written with the
// booking.
func (k Kind) UpsertsCustomer() bool {
	return k != KindRestored && k != KindTeamChanged
}

// IsCancellation reports whether k is a cancellation.
func (k Kind) IsCancellation() bool { return k == KindCancellation }

// Event is a structurally decoded webhook: the route's kind and category plus
// the loosely typed payload.
type Event struct {
	Kind       Kind
	Category   bookings.Category
	ExternalID int64
	Raw        map[string]any
}

// Customer returns the nested customer object, if any.
func (e *Event) Customer() (map[string]any, bool) {
	c, ok := e.Raw["customer"].(map[string]any)
	return c, ok
}

// ValidationError marks a payload rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DataError marks a value that stays invalid after normalization.
type DataError struct {
	Field string
	Err   error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("bad %s: %v", e.Field, e.Err)
}

func (e *DataError) Unwrap() []error {
	return []error{e.Err, bookings.ErrDataConstraint}
}

// ErrRejected is returned for events that are acknowledged but never stored.
var ErrRejected = errors.New("normalize: event rejected")

// Decode is the lenient structural stage: it accepts any JSON object and
// requires only a usable external id.
func Decode(kind Kind, category bookings.Category, body []byte) (*Event, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	id, err := externalID(raw, "id", "booking_id")
	if err != nil {
		return nil, err
	}
	return &Event{Kind: kind, Category: category, ExternalID: id, Raw: raw}, nil
}

// DecodeCustomer decodes a customer webhook body.
func DecodeCustomer(body []byte) (map[string]any, int64, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, 0, err
	}
	id, err := externalID(raw, "id")
	if err != nil {
		return nil, 0, err
	}
	return raw, id, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	if raw == nil {
		return nil, &ValidationError{Field: "body", Reason: "expected a JSON object"}
	}
	return raw, nil
}

func externalID(raw map[string]any, keys ...string) (int64, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		id, err := ParseID(v)
		if err != nil {
			return 0, &ValidationError{Field: key, Reason: err.Error()}
		}
		if id <= 0 {
			return 0, &ValidationError{Field: key, Reason: "must be positive"}
		}
		return id, nil
	}
	return 0, &ValidationError{Field: keys[0], Reason: "missing"}
}

// Reject reports whether the event should be acknowledged and dropped:
// internal meetings and bookings whose postcode is still to be confirmed.
func Reject(raw map[string]any) bool {
	if s, _ := asString(raw["service_category"]); s == "Internal Meeting" {
		return true
	}
	zip, ok := asString(raw["zip"])
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(zip)) {
	case "tbc", "tba":
		return true
	}
	return false
}
