// ABOUTME: Prometheus collectors for relay, transport, agent engine and HTTP activity.
// ABOUTME: One Metrics value is shared by every component of a gateway process.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wormhole"

// Metrics exposes Prometheus collectors that report gateway activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	relayClients  prometheus.Gauge
	relayPending  prometheus.Gauge
	relayCommands *prometheus.CounterVec
	relayReplies  *prometheus.CounterVec

	transportAttempts *prometheus.CounterVec

	agentRoundTrips *prometheus.HistogramVec
	agentOutcomes   *prometheus.CounterVec

	completions *prometheus.CounterVec
}

// New constructs Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return MustNewMetrics(reg, reg)
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto.
func MustNewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		registry: gatherer,
		relayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "execution_clients",
			Help:      "Number of execution clients currently in the broadcast set.",
		}),
		relayPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "pending_requests",
			Help:      "Number of caller commands awaiting a reply.",
		}),
		relayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Caller commands received by the relay, by outcome.",
		}, []string{"outcome"}),
		relayReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "replies_total",
			Help:      "Execution client messages, by routing outcome.",
		}, []string{"outcome"}),
		transportAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "attempts_total",
			Help:      "Command transport attempts, by command and outcome.",
		}, []string{"command", "outcome"}),
		agentRoundTrips: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "round_trip_seconds",
			Help:      "Time spent waiting on the remote session per command.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"command"}),
		agentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "replies_total",
			Help:      "Classified replies, by kind.",
		}, []string{"kind"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "completions_total",
			Help:      "Chat completion requests, by route, stream mode and status.",
		}, []string{"route", "stream", "status"}),
	}

	reg.MustRegister(
		m.relayClients,
		m.relayPending,
		m.relayCommands,
		m.relayReplies,
		m.transportAttempts,
		m.agentRoundTrips,
		m.agentOutcomes,
		m.completions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetRelayClients records the size of the broadcast set.
func (m *Metrics) SetRelayClients(n int) {
	if m == nil {
		return
	}
	m.relayClients.Set(float64(n))
}

// SetRelayPending records the size of the pending request table.
func (m *Metrics) SetRelayPending(n int) {
	if m == nil {
		return
	}
	m.relayPending.Set(float64(n))
}

// RelayCommand counts a caller command by outcome
// ("broadcast", "no_clients", "rejected", "invalid").
func (m *Metrics) RelayCommand(outcome string) {
	if m == nil {
		return
	}
	m.relayCommands.WithLabelValues(outcome).Inc()
}

// RelayReply counts an execution client message by outcome
// ("delivered", "duplicate", "unmatched", "timeout").
func (m *Metrics) RelayReply(outcome string) {
	if m == nil {
		return
	}
	m.relayReplies.WithLabelValues(outcome).Inc()
}

// TransportAttempt counts one command transport attempt.
func (m *Metrics) TransportAttempt(command, outcome string) {
	if m == nil {
		return
	}
	m.transportAttempts.WithLabelValues(command, outcome).Inc()
}

// ObserveRoundTrip records how long a command took to come back.
func (m *Metrics) ObserveRoundTrip(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentRoundTrips.WithLabelValues(command).Observe(d.Seconds())
}

// AgentReply counts a classified reply ("final", "tool_call", "text", "max_steps").
func (m *Metrics) AgentReply(kind string) {
	if m == nil {
		return
	}
	m.agentOutcomes.WithLabelValues(kind).Inc()
}

// Completion counts a finished chat completion request.
func (m *Metrics) Completion(route string, stream bool, status int) {
	if m == nil {
		return
	}
	streamLabel := "false"
	if stream {
		streamLabel = "true"
	}
	m.completions.WithLabelValues(route, streamLabel, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
