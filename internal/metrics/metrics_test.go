// ABOUTME: Tests for the Prometheus collectors.
// ABOUTME: Verifies registration, nil-safety, and the exposition handler.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetRelayClients(3)
		m.SetRelayPending(1)
		m.RelayCommand("broadcast")
		m.RelayReply("delivered")
		m.TransportAttempt("sendMessage", "ok")
		m.ObserveRoundTrip("sendMessage", time.Second)
		m.AgentReply("final")
		m.Completion("simple", false, 200)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RelayCommand("broadcast")
	m.RelayCommand("broadcast")
	m.RelayCommand("no_clients")
	m.SetRelayClients(2)
	m.Completion("tool_response", true, 500)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayCommands.WithLabelValues("broadcast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayCommands.WithLabelValues("no_clients")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completions.WithLabelValues("tool_response", "true", "5xx")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RelayReply("duplicate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wormhole_relay_replies_total{outcome="duplicate"} 1`)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(400))
	assert.Equal(t, "5xx", statusClass(503))
}
