package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VoiceMetrics exposes counters/histograms for the turn pipeline and its
// collaborators. A nil *VoiceMetrics is valid and records nothing.
type VoiceMetrics struct {
	turnsTotal       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	escalationsTotal *prometheus.CounterVec
	bridgeTotal      *prometheus.CounterVec
	llmTotal         *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	activeSessions   prometheus.Gauge
	gdprDeleted      *prometheus.CounterVec
}

// Breaker states as exported by the breaker_state gauge.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

func NewVoiceMetrics(reg prometheus.Registerer) *VoiceMetrics {
	m := &VoiceMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Name:      "turns_total",
			Help:      "Turns processed, by pipeline layer and detected intent",
		}, []string{"layer", "intent"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sara",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency by the layer that answered",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"layer"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Name:      "escalations_total",
			Help:      "Calls handed to a human operator",
		}, []string{"reason"}),
		bridgeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Name:      "bridge_requests_total",
			Help:      "Business bridge calls by endpoint and result",
		}, []string{"endpoint", "result"}),
		llmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Name:      "llm_requests_total",
			Help:      "LLM calls by provider and result",
		}, []string{"provider", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sara",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sara",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
		gdprDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Name:      "gdpr_deleted_rows_total",
			Help:      "Rows removed by the retention sweep",
		}, []string{"table"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.escalationsTotal, m.bridgeTotal,
		m.llmTotal, m.breakerState, m.activeSessions, m.gdprDeleted)
	return m
}

func (m *VoiceMetrics) ObserveTurn(layer, intent string, latency time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(layer, intent).Inc()
	m.turnLatency.WithLabelValues(layer).Observe(latency.Seconds())
}

func (m *VoiceMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(reason).Inc()
}

func (m *VoiceMetrics) ObserveBridge(endpoint string, err error) {
	if m == nil {
		return
	}
	m.bridgeTotal.WithLabelValues(endpoint, result(err)).Inc()
}

func (m *VoiceMetrics) ObserveLLM(provider string, err error) {
	if m == nil {
		return
	}
	m.llmTotal.WithLabelValues(provider, result(err)).Inc()
}

func (m *VoiceMetrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *VoiceMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *VoiceMetrics) ObserveGDPRDeleted(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.gdprDeleted.WithLabelValues(table).Add(float64(rows))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
