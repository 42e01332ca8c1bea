// Package metrics provides Prometheus metrics for the BitGalaxy progression service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Progression
	completionsAccepted prometheus.Counter
	completionsRejected *prometheus.CounterVec
	guestRuns           prometheus.Counter
	xpGranted           prometheus.Counter
	xpGrantFailures     prometheus.Counter
	questStarts         prometheus.Counter
	lookups             *prometheus.CounterVec
	playersCreated      prometheus.Counter
	questsCreated       prometheus.Counter

	// Store
	txConflicts        *prometheus.CounterVec
	txRetriesExhausted *prometheus.CounterVec
	storeLatency       *prometheus.HistogramVec

	// Audit pipeline
	auditEnqueued  prometheus.Counter
	auditDropped   prometheus.Counter
	auditWritten   prometheus.Counter
	auditFailed    prometheus.Counter
	auditQueueSize prometheus.Gauge
	auditWorkers   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "bitgalaxy",
		subsystem:        "progression",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.completionsAccepted = m.counter("completions_accepted_total", "Arcade completions that improved a weekly best tier")
	m.completionsRejected = m.counterVec("completions_rejected_total", "Arcade completions rejected, by reason", "reason")
	m.guestRuns = m.counter("guest_runs_total", "Arcade runs submitted in guest mode")
	m.xpGranted = m.counter("xp_granted_total", "Total XP granted to players")
	m.xpGrantFailures = m.counter("xp_grant_failures_total", "XP grants that failed after an accepted transition")
	m.questStarts = m.counter("quest_starts_total", "Quests marked active")
	m.lookups = m.counterVec("player_lookups_total", "Player lookups by result", "result")
	m.playersCreated = m.counter("players_created_total", "Player records created")
	m.questsCreated = m.counter("quests_created_total", "Default quest definitions created on first reference")

	m.txConflicts = m.counterVec("tx_conflicts_total", "Optimistic transaction conflicts, by store", "store")
	m.txRetriesExhausted = m.counterVec("tx_retries_exhausted_total", "Transactions that ran out of retries, by store", "store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", "store", "op")

	m.auditEnqueued = m.counter("audit_enqueued_total", "Audit records enqueued")
	m.auditDropped = m.counter("audit_dropped_total", "Audit records dropped because the queue was full or closed")
	m.auditWritten = m.counter("audit_written_total", "Audit records written to the sink")
	m.auditFailed = m.counter("audit_failed_total", "Audit records the sink failed to write")
	m.auditQueueSize = m.gauge("audit_queue_size", "Current audit queue length")
	m.auditWorkers = m.gauge("audit_workers", "Number of audit workers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// RecordCompletionAccepted counts an accepted tier transition.
func RecordCompletionAccepted() { globalManager.completionsAccepted.Inc() }

// RecordCompletionRejected counts a rejected completion.
func RecordCompletionRejected(reason string) {
	globalManager.completionsRejected.WithLabelValues(reason).Inc()
}

// RecordGuestRun counts a guest-mode run.
func RecordGuestRun() { globalManager.guestRuns.Inc() }

// RecordXPGranted adds amount to the granted XP total.
func RecordXPGranted(amount int) {
	if amount > 0 {
		globalManager.xpGranted.Add(float64(amount))
	}
}

// RecordXPGrantFailure counts a failed post-commit grant.
func RecordXPGrantFailure() { globalManager.xpGrantFailures.Inc() }

// RecordQuestStart counts a quest start.
func RecordQuestStart() { globalManager.questStarts.Inc() }

// RecordLookup counts a player lookup with result "found", "not_found" or "invalid".
func RecordLookup(result string) { globalManager.lookups.WithLabelValues(result).Inc() }

// RecordPlayerCreated counts a created player record.
func RecordPlayerCreated() { globalManager.playersCreated.Inc() }

// RecordQuestCreated counts a default quest definition created on first use.
func RecordQuestCreated() { globalManager.questsCreated.Inc() }

// RecordTxConflict counts an optimistic conflict in store.
func RecordTxConflict(store string) { globalManager.txConflicts.WithLabelValues(store).Inc() }

// RecordTxRetriesExhausted counts a transaction that gave up.
func RecordTxRetriesExhausted(store string) {
	globalManager.txRetriesExhausted.WithLabelValues(store).Inc()
}

// RecordStoreLatency records the latency of a store operation.
func RecordStoreLatency(store, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordAuditEnqueued counts an accepted audit record.
func RecordAuditEnqueued() { globalManager.auditEnqueued.Inc() }

// RecordAuditDropped counts a dropped audit record.
func RecordAuditDropped() { globalManager.auditDropped.Inc() }

// RecordAuditWritten counts a persisted audit record.
func RecordAuditWritten() { globalManager.auditWritten.Inc() }

// RecordAuditFailed counts a sink failure.
func RecordAuditFailed() { globalManager.auditFailed.Inc() }

// UpdateAuditQueueSize sets the audit queue length.
func UpdateAuditQueueSize(size int) { globalManager.auditQueueSize.Set(float64(size)) }

// UpdateAuditWorkers sets the audit worker count.
func UpdateAuditWorkers(count int) { globalManager.auditWorkers.Set(float64(count)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
