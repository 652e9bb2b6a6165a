package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

type recordingMetrics struct {
	events    []string
	retries   int
	latencies int
}

func (m *recordingMetrics) ObserveEvent(category, kind, state string) {
	m.events = append(m.events, fmt.Sprintf("%s/%s/%s", category, kind, state))
}

func (m *recordingMetrics) ObserveConflictRetry(string, string) { m.retries++ }

func (m *recordingMetrics) ObserveWebhookLatency(string, float64) { m.latencies++ }

type fixture struct {
	store     *bookings.MemoryStore
	queue     *notify.MemoryQueue
	metrics   *recordingMetrics
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	store := bookings.NewMemoryStore()
	queue := notify.NewMemoryQueue(16)
	metrics := &recordingMetrics{}
	reconciler := bookings.NewReconciler(bookings.NewResolver(store, logger), bookings.Options{Logger: logger})
	p := NewProcessor(Config{
		Normalizer: normalize.New(normalize.Options{
			Logger: logger,
			Now:    func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) },
		}),
		Reconciler: reconciler,
		Gate:       notify.NewGate(notify.GateConfig{CRMCategories: []string{"House Clean", "Bond Clean"}}),
		Publisher:  notify.NewPublisher(queue),
		Metrics:    metrics,
		Logger:     logger,
	})
	return &fixture{store: store, queue: queue, metrics: metrics, processor: p}
}

func (f *fixture) jobs(t *testing.T) []notify.Job {
	t.Helper()
	var jobs []notify.Job
	for f.queue.Len() > 0 {
		msgs, err := f.queue.Receive(context.Background(), 10, 0)
		require.NoError(t, err)
		for _, m := range msgs {
			var j notify.Job
			require.NoError(t, json.Unmarshal([]byte(m.Body), &j))
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func jobTypes(jobs []notify.Job) []notify.JobType {
	var out []notify.JobType
	for _, j := range jobs {
		out = append(out, j.Type)
	}
	return out
}

const newBooking = `{
	"id": 501,
	"updated_at": "2024-03-01T09:00:00Z",
	"service_category": "House Clean",
	"frequency": "1 Time Service",
	"email": "jo@example.com",
	"final_price": "$120.00",
	"customer": {"id": 77, "email": "jo@example.com", "first_name": "Jo", "updated_at": "2024-03-01T09:00:00Z"}
}`

func TestProcessBooking_NewThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.processor.ProcessBooking(ctx, bookings.CategoryBooking, normalize.KindNew, []byte(newBooking))
	require.Equal(t, StatusCommitted, res.Status, res.Err)
	assert.Equal(t, bookings.ActionCreated, res.Action())
	assert.Equal(t, int64(501), res.ExternalID)

	rec, ok := f.store.Record(bookings.CategoryBooking, 501)
	require.True(t, ok)
	assert.Equal(t, bookings.StatusNotComplete, rec.Status)
	require.NotNil(t, rec.FinalPrice)
	assert.Equal(t, int64(12000), *rec.FinalPrice)
	_, ok = f.store.Customer(77)
	assert.True(t, ok)

	assert.ElementsMatch(t, []notify.JobType{notify.JobCRMSync, notify.JobBookingConfirmation}, jobTypes(f.jobs(t)))

	// at-least-once delivery: the replay converges on the same row
	res = f.processor.ProcessBooking(ctx, bookings.CategoryBooking, normalize.KindNew, []byte(newBooking))
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 1, f.store.Count(bookings.CategoryBooking))
	assert.Empty(t, jobTypes(f.jobs(t)), "replay neither creates the customer nor the booking")

	assert.Equal(t, []string{"booking/new/committed", "booking/new/committed"}, f.metrics.events)
	assert.Equal(t, 2, f.metrics.latencies)
}

func TestProcessBooking_Rejected(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"id": 1, "service_category": "Internal Meeting"}`,
		`{"id": 2, "zip": "TBC"}`,
	} {
		res := f.processor.ProcessBooking(context.Background(), bookings.CategoryBooking, normalize.KindNew, []byte(body))
		assert.Equal(t, StatusIgnored, res.Status)
		assert.ErrorIs(t, res.Err, normalize.ErrRejected)
	}
	assert.Zero(t, f.store.Count(bookings.CategoryBooking))
}

func TestProcessBooking_Invalid(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`not json`, `{"name": "no id"}`, `{"id": -4}`, `[]`} {
		res := f.processor.ProcessBooking(context.Background(), bookings.CategoryBooking, normalize.KindNew, []byte(body))
		assert.Equal(t, StatusInvalid, res.Status, body)
		var verr *normalize.ValidationError
		assert.ErrorAs(t, res.Err, &verr)
	}
	assert.Zero(t, f.queue.Len())
}

func TestProcessBooking_DataErrorRaisesAlert(t *testing.T) {
	f := newFixture(t)
	body := `{"id": 9, "team_details": "[{'title': 'Team A'"}`

	res := f.processor.ProcessBooking(context.Background(), bookings.CategoryNDISReservation, normalize.KindUpdated, []byte(body))
	assert.Equal(t, StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, bookings.ErrDataConstraint)
	assert.Zero(t, f.store.Count(bookings.CategoryNDISReservation))

	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, notify.JobOperatorAlert, jobs[0].Type)
	assert.Equal(t, "ndis_reservation", jobs[0].Category)
	assert.JSONEq(t, body, string(jobs[0].Payload))
}

func TestProcessBooking_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.Fail = func(op string) error {
		if op == "begin" {
			return bookings.ErrUnavailable
		}
		return nil
	}

	res := f.processor.ProcessBooking(context.Background(), bookings.CategoryBooking, normalize.KindNew, []byte(newBooking))
	assert.Equal(t, StatusRetry, res.Status)
	assert.ErrorIs(t, res.Err, bookings.ErrUnavailable)
	assert.Zero(t, f.queue.Len())
}

func TestProcessBooking_CancelledAfterCompletion(t *testing.T) {
	f := newFixture(t)
	completedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	f.store.Put(bookings.CategoryBooking, &bookings.Record{ExternalID: 600, Status: bookings.StatusCompleted, UpdatedAt: &completedAt})

	body := `{"id": 600, "updated_at": "2024-03-01T12:00:00Z", "cancellation_reason": "moved"}`
	res := f.processor.ProcessBooking(context.Background(), bookings.CategoryBooking, normalize.KindCancellation, []byte(body))
	require.Equal(t, StatusCommitted, res.Status, res.Err)

	rec, _ := f.store.Record(bookings.CategoryBooking, 600)
	assert.Equal(t, bookings.StatusCancelled, rec.Status)

	jobs := f.jobs(t)
	require.Equal(t, []notify.JobType{notify.JobCancelledAfterCompletion}, jobTypes(jobs))
	assert.Equal(t, bookings.StatusCompleted, jobs[0].Prior.Status)
}

type capturedEmails struct {
	sent []notify.EmailMessage
}

func (c *capturedEmails) Send(_ context.Context, msg notify.EmailMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestProcessBooking_DeletedReservationStillAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.processor.ProcessBooking(ctx, bookings.CategoryNDISReservation, normalize.KindCompleted,
		[]byte(`{"id": 700, "updated_at": "2024-03-01T09:00:00Z", "name": "Jo Bloggs"}`))
	require.Equal(t, StatusCommitted, res.Status, res.Err)
	require.Empty(t, f.jobs(t))

	res = f.processor.ProcessBooking(ctx, bookings.CategoryNDISReservation, normalize.KindCancellation,
		[]byte(`{"id": 700, "updated_at": "2024-03-01T12:00:00Z", "cancellation_reason": "moved"}`))
	require.Equal(t, StatusCommitted, res.Status, res.Err)
	assert.Equal(t, bookings.ActionDeleted, res.Action())
	_, ok := f.store.Record(bookings.CategoryNDISReservation, 700)
	assert.False(t, ok)

	jobs := f.jobs(t)
	require.Equal(t, []notify.JobType{notify.JobCancelledAfterCompletion}, jobTypes(jobs))
	require.NotNil(t, jobs[0].Record)
	assert.Equal(t, bookings.StatusCancelled, jobs[0].Record.Status)
	assert.Equal(t, bookings.StatusCompleted, jobs[0].Prior.Status)

	email := &capturedEmails{}
	svc := notify.NewService(notify.ServiceDeps{Email: email}, notify.ServiceConfig{
		AppName:      "Reconciler",
		SupportEmail: "support@example.com",
	}, logging.Discard())
	require.NoError(t, svc.Handle(ctx, jobs[0]))
	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0].Subject, "Completed booking 700 cancelled")
	assert.Contains(t, email.sent[0].Body, "Jo Bloggs")
	assert.Contains(t, email.sent[0].Body, "moved")
}

func TestProcessCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.processor.ProcessCustomer(ctx, normalize.KindNew, []byte(`{"id": 12, "email": "a@example.com", "updated_at": "2024-03-01T09:00:00Z"}`))
	require.Equal(t, StatusCommitted, res.Status, res.Err)
	c, ok := f.store.Customer(12)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", *c.Email)

	res = f.processor.ProcessCustomer(ctx, normalize.KindUpdated, []byte(`{"email": "a@example.com"}`))
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, []string{"customer/new/committed", "customer/updated/invalid"}, f.metrics.events)
}
