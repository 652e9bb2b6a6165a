package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcilerMetrics exposes counters/histograms for webhook reconciliation
// and the side-effect worker.
type ReconcilerMetrics struct {
	eventsTotal     *prometheus.CounterVec
	conflictRetries *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	locationLookups *prometheus.CounterVec
}

func NewReconcilerMetrics(reg prometheus.Registerer) *ReconcilerMetrics {
	m := &ReconcilerMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reconciler",
			Name:      "events_total",
			Help:      "Webhook events by category, kind and terminal state",
		}, []string{"category", "kind", "state"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reconciler",
			Name:      "conflict_retries_total",
			Help:      "Commits that went through a conflict retry",
		}, []string{"category", "state"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "reconciler",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "notify",
			Name:      "jobs_total",
			Help:      "Side-effect jobs by type and result",
		}, []string{"type", "result"}),
		locationLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "location",
			Name:      "lookups_total",
			Help:      "Postcode lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.conflictRetries, m.webhookLatency, m.jobsTotal, m.locationLookups)
	return m
}

func (m *ReconcilerMetrics) ObserveEvent(category, kind, state string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(category, kind, state).Inc()
}

func (m *ReconcilerMetrics) ObserveConflictRetry(category, state string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(category, state).Inc()
}

func (m *ReconcilerMetrics) ObserveWebhookLatency(category string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(category).Observe(seconds)
}

func (m *ReconcilerMetrics) ObserveJob(jobType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobsTotal.WithLabelValues(jobType, result).Inc()
}

func (m *ReconcilerMetrics) ObserveLocationLookup(result string) {
	if m == nil {
		return
	}
	m.locationLookups.WithLabelValues(result).Inc()
}
