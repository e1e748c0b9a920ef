package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "limpopo"

// Metrics holds the engine collectors.
type Metrics struct {
	dialogsActive    prometheus.Gauge
	dialogsClosed    *prometheus.CounterVec
	answers          *prometheus.CounterVec
	storageRetries   *prometheus.CounterVec
	storageExhausted *prometheus.CounterVec
	callsSkipped     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dialogsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dialogs_active",
			Help:      "Number of live dialog sessions held by the registry.",
		}),
		dialogsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogs_closed_total",
			Help:      "Dialogs removed from the registry, by outcome.",
		}, []string{"outcome"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Replies processed by Ask, by result (accepted, rejected, stale, replayed).",
		}, []string{"result"}),
		storageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Storage operations retried after a transient failure.",
		}, []string{"op"}),
		storageExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_exhausted_total",
			Help:      "Storage operations that ran out of retry attempts.",
		}, []string{"op"}),
		callsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_skipped_total",
			Help:      "CallOnce side effects skipped because they already ran.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.dialogsActive,
			m.dialogsClosed,
			m.answers,
			m.storageRetries,
			m.storageExhausted,
			m.callsSkipped,
		)
	}
	return m
}

// DialogOpened increments the live session gauge.
func (m *Metrics) DialogOpened() {
	if m == nil {
		return
	}
	m.dialogsActive.Inc()
}

// DialogClosed decrements the live session gauge and counts the outcome.
func (m *Metrics) DialogClosed(outcome string) {
	if m == nil {
		return
	}
	m.dialogsActive.Dec()
	m.dialogsClosed.WithLabelValues(outcome).Inc()
}

// Answer counts a processed reply.
func (m *Metrics) Answer(result string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(result).Inc()
}

// StorageRetry counts a retried storage operation.
func (m *Metrics) StorageRetry(op string) {
	if m == nil {
		return
	}
	m.storageRetries.WithLabelValues(op).Inc()
}

// StorageExhausted counts a storage operation that gave up.
func (m *Metrics) StorageExhausted(op string) {
	if m == nil {
		return
	}
	m.storageExhausted.WithLabelValues(op).Inc()
}

// CallSkipped counts a CallOnce that did not run.
func (m *Metrics) CallSkipped() {
	if m == nil {
		return
	}
	m.callsSkipped.Inc()
}
