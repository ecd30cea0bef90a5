// ABOUTME: Pass-through WebSocket proxy for pages that cannot reach the relay directly.
// ABOUTME: Each downstream connection gets its own upstream connection; frames are pumped both ways.

package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Proxy forwards every WebSocket connection it accepts to an upstream relay.
type Proxy struct {
	upstream string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// NewProxy creates a Proxy forwarding to the relay at upstreamURL (ws:// or wss://).
func NewProxy(upstreamURL string, logger *slog.Logger) *Proxy {
	return &Proxy{
		upstream: upstreamURL,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ServeHTTP upgrades the downstream connection, dials upstream and pumps
// frames until either side closes.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	down, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("proxy upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer down.Close()

	up, _, err := p.dialer.DialContext(r.Context(), p.upstream, nil)
	if err != nil {
		p.logger.Error("proxy failed to reach relay", "upstream", p.upstream, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "relay unavailable")
		_ = down.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}
	defer up.Close()

	p.logger.Info("proxy connection opened", "remote", r.RemoteAddr, "upstream", p.upstream)

	done := make(chan string, 2)
	go pump(down, up, "downstream", done)
	go pump(up, down, "upstream", done)

	side := <-done
	p.logger.Info("proxy connection closed", "remote", r.RemoteAddr, "closed_by", side)

	// Unblock the other pump.
	_ = down.Close()
	_ = up.Close()
	<-done
}

// pump copies frames from src to dst and reports name on done when src ends.
func pump(src, dst *websocket.Conn, name string, done chan<- string) {
	defer func() { done <- name }()
	for {
		kind, data, err := src.ReadMessage()
		if err != nil {
			closeCode := websocket.CloseNormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				closeCode = ce.Code
			}
			if closeCode == websocket.CloseNoStatusReceived || closeCode == websocket.CloseAbnormalClosure {
				closeCode = websocket.CloseGoingAway
			}
			msg := websocket.FormatCloseMessage(closeCode, "")
			_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		if err := dst.WriteMessage(kind, data); err != nil {
			return
		}
	}
}
