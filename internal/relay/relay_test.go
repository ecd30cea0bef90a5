// ABOUTME: Tests for the relay broker and proxy over real WebSocket connections.
// ABOUTME: Covers role detection, fast-fail, first-reply-wins, correlation, deadlines and purging.

package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, cfg Config) (*Relay, string) {
	t.Helper()
	r := New(cfg, testLogger(), metrics.New())
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectClient dials an execution client and waits until the relay counts it.
func connectClient(t *testing.T, r *Relay, url string) *websocket.Conn {
	t.Helper()
	before := r.ClientCount()
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello"}))
	require.Eventually(t, func() bool { return r.ClientCount() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func sendCommand(t *testing.T, url string, msg CallerMessage) *websocket.Conn {
	t.Helper()
	msg.Type = TypeSender
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(msg))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "expected no message, got %s", data)
}

// echoClient answers every command with its own request id as the result.
func echoClient(t *testing.T, r *Relay, url string) {
	t.Helper()
	conn := connectClient(t, r, url)
	go func() {
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			reply := map[string]any{"request_id": cmd["request_id"], "success": true, "result": cmd["request_id"]}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}()
}

func TestRelay_NoClientsFastFail(t *testing.T) {
	r, url := newTestRelay(t, Config{})

	caller := sendCommand(t, url, CallerMessage{Command: "sendMessage", RequestID: "req-1"})
	reply := readJSON(t, caller)

	assert.Equal(t, false, reply["success"])
	assert.Equal(t, ErrTextNoClients, reply["error"])
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, r.ClientCount(), "callers never join the broadcast set")
}

func TestRelay_BroadcastFirstReplyWins(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	c1 := connectClient(t, r, url)
	c2 := connectClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{
		Command:   "sendMessage",
		Params:    json.RawMessage(`{"prompt":"hi"}`),
		RequestID: "req-1",
	})

	for _, c := range []*websocket.Conn{c1, c2} {
		got := readJSON(t, c)
		assert.Equal(t, "sendMessage", got["command"])
		assert.Equal(t, "req-1", got["request_id"])
		assert.Equal(t, map[string]any{"prompt": "hi"}, got["params"])
		assert.NotContains(t, got, "type")
	}
	require.Eventually(t, func() bool { return r.PendingCount() == 1 }, time.Second, 5*time.Millisecond)

	first := `{"request_id":"req-1","success":true,"result":{"response":"from c1"}}`
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(first)))

	require.NoError(t, caller.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := caller.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, first, string(data), "reply is forwarded verbatim")

	require.NoError(t, c2.WriteJSON(map[string]any{"request_id": "req-1", "success": true, "result": "from c2"}))
	assertSilent(t, caller)

	assert.Equal(t, 0, r.PendingCount())
	assert.True(t, r.completed.Check("req-1"))
}

func TestRelay_LegacyCodePath(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	sendCommand(t, url, CallerMessage{Code: "document.title", RequestID: "req-legacy"})

	got := readJSON(t, client)
	assert.Equal(t, map[string]any{"code": "document.title", "request_id": "req-legacy"}, got)
}

func TestRelay_CommandWithoutParamsGetsEmptyObject(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "req-p"})

	got := readJSON(t, client)
	assert.Equal(t, map[string]any{}, got["params"])
}

func TestRelay_CorrelationUniqueness(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	echoClient(t, r, url)
	echoClient(t, r, url)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			id := fmt.Sprintf("req-%d", i)
			msg := CallerMessage{Type: TypeSender, Command: "sendMessage", RequestID: id}
			if !assert.NoError(t, conn.WriteJSON(msg)) {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var reply map[string]any
			if !assert.NoError(t, conn.ReadJSON(&reply)) {
				return
			}
			results[i], _ = reply["result"].(string)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("req-%d", i), got, "caller %d received another caller's reply", i)
	}
	require.Eventually(t, func() bool { return r.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRelay_UnknownReplyDiscarded(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	require.NoError(t, client.WriteJSON(map[string]any{"request_id": "nobody", "success": true}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The client stays connected and keeps working.
	caller := sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "req-ok"})
	readJSON(t, client)
	require.NoError(t, client.WriteJSON(map[string]any{"request_id": "req-ok", "success": true}))
	assert.Equal(t, true, readJSON(t, caller)["success"])
	assert.Equal(t, 1, r.ClientCount())
}

func TestRelay_RequestTimeout(t *testing.T) {
	r, url := newTestRelay(t, Config{RequestTimeout: 50 * time.Millisecond})
	client := connectClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{Command: "sendMessage", RequestID: "req-slow"})
	readJSON(t, client)

	reply := readJSON(t, caller)
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, ErrTextTimeout, reply["error"])
	assert.Equal(t, 0, r.PendingCount())

	// A late reply is recognised as a duplicate, not delivered.
	require.NoError(t, client.WriteJSON(map[string]any{"request_id": "req-slow", "success": true}))
	assertSilent(t, caller)
}

func TestRelay_ExclusiveRouting(t *testing.T) {
	r, url := newTestRelay(t, Config{Routing: config.RoutingExclusive})
	echoClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "req-1"})
	assert.Equal(t, true, readJSON(t, caller)["success"])

	echoClient(t, r, url)
	caller = sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "req-2"})
	reply := readJSON(t, caller)
	assert.Equal(t, false, reply["success"])
	assert.Contains(t, reply["error"], "exactly one execution client")
	assert.Equal(t, 0, r.PendingCount())
}

func TestRelay_CallerDisconnectPurgesPending(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{Command: "sendMessage", RequestID: "req-gone"})
	readJSON(t, client)
	require.Equal(t, 1, r.PendingCount())

	require.NoError(t, caller.Close())

	require.Eventually(t, func() bool { return r.PendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_ClientDisconnectLeavesBroadcastSet(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool { return r.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_InvalidCommand(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	connectClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{Command: "ping"})
	reply := readJSON(t, caller)
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, "request_id is required", reply["error"])

	caller = sendCommand(t, url, CallerMessage{RequestID: "req-empty"})
	reply = readJSON(t, caller)
	assert.Equal(t, "code or command is required", reply["error"])
}

func TestRelay_DuplicatePendingRequestID(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "same"})
	readJSON(t, client)

	second := sendCommand(t, url, CallerMessage{Command: "ping", RequestID: "same"})
	reply := readJSON(t, second)
	assert.Equal(t, ErrDuplicateRequest.Error(), reply["error"])
	assert.Equal(t, 1, r.PendingCount())
}

func TestRelay_CloseFailsPendingCallers(t *testing.T) {
	r, url := newTestRelay(t, Config{})
	client := connectClient(t, r, url)

	caller := sendCommand(t, url, CallerMessage{Command: "sendMessage", RequestID: "req-1"})
	readJSON(t, client)

	r.Close()

	reply := readJSON(t, caller)
	assert.Equal(t, ErrTextShutdown, reply["error"])
	assert.Equal(t, 0, r.PendingCount())
}

func TestProxy_ForwardsBothWays(t *testing.T) {
	r, relayURL := newTestRelay(t, Config{})

	proxySrv := httptest.NewServer(NewProxy(relayURL, testLogger()))
	t.Cleanup(proxySrv.Close)
	proxyURL := "ws" + strings.TrimPrefix(proxySrv.URL, "http")

	// The execution client only knows the proxy.
	client := connectClient(t, r, proxyURL)

	caller := sendCommand(t, relayURL, CallerMessage{Command: "sendMessage", RequestID: "via-proxy"})
	got := readJSON(t, client)
	assert.Equal(t, "via-proxy", got["request_id"])

	require.NoError(t, client.WriteJSON(map[string]any{"request_id": "via-proxy", "success": true, "result": "ok"}))
	assert.Equal(t, "ok", readJSON(t, caller)["result"])

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return r.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestProxy_UpstreamUnavailable(t *testing.T) {
	proxySrv := httptest.NewServer(NewProxy("ws://127.0.0.1:1", testLogger()))
	t.Cleanup(proxySrv.Close)

	conn := dial(t, "ws"+strings.TrimPrefix(proxySrv.URL, "http"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()

	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
}
