// ABOUTME: Tests for the command transport against fake and real relays.
// ABOUTME: Covers success, retry policy, deadlines, malformed replies and result decoding.

package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wormhole-gateway/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRelay accepts caller connections and lets handle answer each command.
func fakeRelay(t *testing.T, handle func(conn *websocket.Conn, msg relay.CallerMessage)) (string, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		attempts.Add(1)

		var msg relay.CallerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		handle(conn, msg)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &attempts
}

func newClient(url string, retries int, timeout time.Duration) *Client {
	return New(Config{
		RelayURL:       url,
		MaxRetries:     retries,
		Timeout:        timeout,
		InitialBackoff: time.Millisecond,
	}, testLogger(), nil)
}

func TestSend_Success(t *testing.T) {
	seen := make(chan relay.CallerMessage, 1)
	url, attempts := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		seen <- msg
		_ = conn.WriteJSON(map[string]any{
			"request_id": msg.RequestID,
			"success":    true,
			"result":     map[string]string{"conversationId": "conv-1", "response": "hello"},
		})
	})

	res := newClient(url, 3, time.Second).Send(context.Background(), "createConversation", map[string]string{"prompt": "hi"})

	require.True(t, res.Success, "error: %s", res.Error)
	got := <-seen
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, relay.TypeSender, got.Type)
	assert.Equal(t, "createConversation", got.Command)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(got.Params))
	assert.NotEmpty(t, got.RequestID)

	var out struct {
		ConversationID string `json:"conversationId"`
		Response       string `json:"response"`
	}
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "conv-1", out.ConversationID)
	assert.Equal(t, "hello", out.Response)
}

func TestSendCode_LegacyBody(t *testing.T) {
	seen := make(chan relay.CallerMessage, 1)
	url, _ := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		seen <- msg
		_ = conn.WriteJSON(map[string]any{"success": true, "result": "Title"})
	})

	res := newClient(url, 0, time.Second).SendCode(context.Background(), "document.title")

	require.True(t, res.Success)
	got := <-seen
	assert.Equal(t, "document.title", got.Code)
	assert.Empty(t, got.Command)
	assert.Equal(t, "Title", res.Text())
}

func TestSend_NoClientsIsRetried(t *testing.T) {
	url, attempts := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		_ = conn.WriteJSON(map[string]any{"success": false, "error": relay.ErrTextNoClients})
	})

	res := newClient(url, 2, time.Second).Send(context.Background(), "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Equal(t, relay.ErrTextNoClients, res.Error)
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus two retries")
}

func TestSend_NoClientsThenSuccess(t *testing.T) {
	var calls atomic.Int32
	url, _ := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		if calls.Add(1) == 1 {
			_ = conn.WriteJSON(map[string]any{"success": false, "error": relay.ErrTextNoClients})
			return
		}
		_ = conn.WriteJSON(map[string]any{"success": true, "result": map[string]string{"response": "late"}})
	})

	res := newClient(url, 3, time.Second).Send(context.Background(), "sendMessage", nil)

	require.True(t, res.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend_RemoteFailureNotRetried(t *testing.T) {
	url, attempts := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		_ = conn.WriteJSON(map[string]any{"success": false, "error": "page threw"})
	})

	res := newClient(url, 3, time.Second).Send(context.Background(), "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "page threw", res.Error)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSend_DialFailure(t *testing.T) {
	res := newClient("ws://127.0.0.1:1", 1, time.Second).Send(context.Background(), "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "dialing relay")
}

func TestSend_TimeoutIsNotRetried(t *testing.T) {
	url, attempts := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		_, _, _ = conn.ReadMessage() // wait for the client to give up
	})

	start := time.Now()
	res := newClient(url, 3, 50*time.Millisecond).Send(context.Background(), "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "waiting for reply")
	assert.Equal(t, int32(1), attempts.Load(), "the command may have reached a page, so it is not resent")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSend_ContextCancelled(t *testing.T) {
	url, _ := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res := newClient(url, 3, 0).Send(ctx, "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestSend_MalformedReply(t *testing.T) {
	url, _ := fakeRelay(t, func(conn *websocket.Conn, msg relay.CallerMessage) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("<html>oops</html>"))
	})

	res := newClient(url, 3, time.Second).Send(context.Background(), "sendMessage", nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "malformed reply")
}

func TestSend_UnencodableParams(t *testing.T) {
	res := newClient("ws://127.0.0.1:1", 0, time.Second).Send(context.Background(), "x", make(chan int))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "encoding params")
}

func TestSend_ThroughRealRelay(t *testing.T) {
	r := relay.New(relay.Config{}, testLogger(), nil)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	page, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer page.Close()
	require.NoError(t, page.WriteJSON(map[string]string{"status": "ready"}))
	require.Eventually(t, func() bool { return r.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	go func() {
		var cmd map[string]any
		if err := page.ReadJSON(&cmd); err != nil {
			return
		}
		_ = page.WriteJSON(map[string]any{
			"request_id": cmd["request_id"],
			"success":    true,
			"result":     map[string]any{"echo": cmd["params"]},
		})
	}()

	res := newClient(url, 0, 2*time.Second).Send(context.Background(), "sendMessage", map[string]string{"prompt": "ping"})

	require.True(t, res.Success, "error: %s", res.Error)
	var out struct {
		Echo map[string]string `json:"echo"`
	}
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "ping", out.Echo["prompt"])
}

func TestResult_Decode(t *testing.T) {
	type payload struct {
		ConversationID string `json:"conversationId"`
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"object", `{"conversationId":"c1"}`, "c1", false},
		{"json string", `"{\"conversationId\":\"c2\"}"`, "c2", false},
		{"repaired string", `"{'conversationId': 'c3',}"`, "c3", false},
		{"empty", ``, "", true},
		{"null", `null`, "", true},
		{"wrong shape", `[1,2]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := Result{Success: true, Result: json.RawMessage(tt.raw)}.Decode(&p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.ConversationID)
		})
	}
}

func TestResult_Text(t *testing.T) {
	assert.Equal(t, "plain", Result{Result: json.RawMessage(`"plain"`)}.Text())
	assert.Equal(t, `{"a":1}`, Result{Result: json.RawMessage(`{"a":1}`)}.Text())
	assert.Equal(t, "", Result{}.Text())
}
