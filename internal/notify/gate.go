package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
)

// JobType names a post-commit side effect.
type JobType string

const (
	JobCancelledAfterCompletion JobType = "cancelled_after_completion"
	JobCRMSync                  JobType = "crm_sync"
	JobBookingConfirmation      JobType = "booking_confirmation"
	JobOperatorAlert            JobType = "operator_alert"
)

// Job is the queued unit of side-effect work.
type Job struct {
	ID         string           `json:"id"`
	Type       JobType          `json:"type"`
	Kind       normalize.Kind   `json:"kind,omitempty"`
	Category   string           `json:"category,omitempty"`
	ExternalID int64            `json:"external_id"`
	// Record is the row as written, or as it stood when deleted; Prior the
	// row before the event.
	Record *bookings.Record `json:"record,omitempty"`
	Prior  *bookings.Record `json:"prior,omitempty"`
	// Reason is the failure text on operator alerts.
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transition is what the gate sees of one processed event.
type Transition struct {
	Kind       normalize.Kind
	Category   bookings.Category
	ExternalID int64
	Outcome    bookings.Outcome
	Payload    []byte
}

// GateConfig configures a Gate.
type GateConfig struct {
	// CRMCategories lists the service categories synced to the CRM.
	CRMCategories []string
	Now           func() time.Time
}

// Gate decides which side effects a transition triggers. It is pure: the
// external idempotence checks happen when the job runs.
type Gate struct {
	crmCategories map[string]bool
	now           func() time.Time
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) *Gate {
	cats := make(map[string]bool, len(cfg.CRMCategories))
	for _, c := range cfg.CRMCategories {
		cats[strings.TrimSpace(c)] = true
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{crmCategories: cats, now: now}
}

// Evaluate returns the jobs triggered by t, if any.
func (g *Gate) Evaluate(t Transition) []Job {
	switch t.Outcome.State {
	case bookings.StateFatal:
		return []Job{g.job(JobOperatorAlert, t, nil, alertReason(t.Outcome.Err))}
	case bookings.StateCommitted:
	default:
		return nil
	}

	change := t.Outcome.Change
	if change == nil || change.Action == bookings.ActionStale {
		return nil
	}

	var jobs []Job
	if t.Kind == normalize.KindCancellation && change.Prior != nil && change.Prior.Status == bookings.StatusCompleted {
		jobs = append(jobs, g.job(JobCancelledAfterCompletion, t, change, ""))
	}
	if g.wantsCRM(t, change) {
		jobs = append(jobs, g.job(JobCRMSync, t, change, ""))
	}
	if wantsConfirmation(t, change) {
		jobs = append(jobs, g.job(JobBookingConfirmation, t, change, ""))
	}
	return jobs
}

func (g *Gate) wantsCRM(t Transition, change *bookings.Change) bool {
	if t.Kind != normalize.KindNew && t.Kind != normalize.KindUpdated {
		return false
	}
	rec := change.Record
	if t.Category != bookings.CategoryBooking || rec == nil {
		return false
	}
	if rec.ServiceCategory == nil || !g.crmCategories[*rec.ServiceCategory] {
		return false
	}
	if !change.CustomerCreated && !rec.IsNewCustomer {
		return false
	}
	return hasText(rec.Email)
}

func wantsConfirmation(t Transition, change *bookings.Change) bool {
	rec := change.Record
	if t.Category != bookings.CategoryBooking || change.Action != bookings.ActionCreated || rec == nil {
		return false
	}
	if rec.Status != bookings.StatusNotComplete || !hasText(rec.Email) {
		return false
	}
	oneOff := rec.Frequency != nil && strings.EqualFold(strings.TrimSpace(*rec.Frequency), "1 Time Service")
	return oneOff || rec.IsFirstRecurring
}

func (g *Gate) job(typ JobType, t Transition, change *bookings.Change, reason string) Job {
	j := Job{
		ID:         uuid.NewString(),
		Type:       typ,
		Kind:       t.Kind,
		ExternalID: t.ExternalID,
		Reason:     reason,
		CreatedAt:  g.now().UTC(),
	}
	if change != nil {
		j.Record, j.Prior = change.Record.Clone(), change.Prior.Clone()
		if j.Record == nil {
			j.Record = change.Removed.Clone()
		}
	}
	if t.Category != 0 {
		j.Category = t.Category.String()
	}
	// Alerts carry the payload for replay; the cancellation webhook forwards it.
	if (typ == JobOperatorAlert || typ == JobCancelledAfterCompletion) && len(t.Payload) > 0 {
		if json.Valid(t.Payload) {
			j.Payload = append(json.RawMessage(nil), t.Payload...)
		} else {
			raw, _ := json.Marshal(string(t.Payload))
			j.Payload = raw
		}
	}
	return j
}

func alertReason(err error) string {
	switch {
	case err == nil:
		return "unknown failure"
	case errors.Is(err, bookings.ErrConflictPersisted):
		return "conflict persisted after retry: " + err.Error()
	case errors.Is(err, bookings.ErrDataConstraint):
		return "data constraint violation: " + err.Error()
	default:
		return err.Error()
	}
}

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// Publisher encodes jobs onto a Queue.
type Publisher struct {
	queue Queue
}

// NewPublisher creates a Publisher.
func NewPublisher(queue Queue) *Publisher {
	return &Publisher{queue: queue}
}

// Publish enqueues every job, stopping at the first failure.
func (p *Publisher) Publish(ctx context.Context, jobs ...Job) error {
	for _, j := range jobs {
		body, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("notify: encode job: %w", err)
		}
		if err := p.queue.Send(ctx, string(body)); err != nil {
			return fmt.Errorf("notify: enqueue %s: %w", j.Type, err)
		}
	}
	return nil
}
