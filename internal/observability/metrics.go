package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metric receiver is tolerated on the Observe helpers so packages can be
// unit-tested without registering collectors.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	TranscriptCommits *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	KeepAlivePings    prometheus.Counter
	WSMessages        *prometheus.CounterVec
	ReferralPublishes *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of consult calls with a live voice session.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		TranscriptCommits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_commits_total",
			Help:      "Transcript commits by speaker and mode (append or merge).",
		}, []string{"speaker", "mode"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_dropped_total",
			Help:      "Session events discarded before reconciliation, by reason.",
		}, []string{"reason"}),
		KeepAlivePings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_pings_total",
			Help:      "Keep-alive signals sent to the voice transport.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Live transcript feed messages by direction and type.",
		}, []string{"direction", "type"}),
		ReferralPublishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_publishes_total",
			Help:      "Completed-transcript hand-offs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveCallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTranscriptCommit(speaker, mode string) {
	if m == nil {
		return
	}
	m.TranscriptCommits.WithLabelValues(speaker, mode).Inc()
}

func (m *Metrics) ObserveDroppedEvent(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivePings.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveReferralPublish(outcome string) {
	if m == nil {
		return
	}
	m.ReferralPublishes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
