// ABOUTME: A single WebSocket connection to the relay and its fixed role.
// ABOUTME: Serializes writes so broadcasts and replies never interleave on one socket.

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 32 << 20
)

type role int

const (
	roleUnclassified role = iota
	roleExecutionClient
	roleCaller
)

func (r role) String() string {
	switch r {
	case roleExecutionClient:
		return "execution_client"
	case roleCaller:
		return "caller"
	default:
		return "unclassified"
	}
}

// peer is one open duplex connection. Its role is fixed by the first message
// it sends and only the read loop goroutine changes it.
type peer struct {
	ID     string
	Remote string

	role role

	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

func newPeer(id string, conn *websocket.Conn, logger *slog.Logger) *peer {
	return &peer{
		ID:     id,
		Remote: conn.RemoteAddr().String(),
		conn:   conn,
		logger: logger,
	}
}

// sendJSON encodes v as one text frame.
func (p *peer) sendJSON(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

// sendRaw forwards data verbatim as one text frame.
func (p *peer) sendRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame, best effort, and tears the socket down.
func (p *peer) close(reason string) {
	p.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	p.writeMu.Unlock()

	_ = p.conn.Close()
}
