// ABOUTME: WebSocket broker between execution clients (browser pages) and callers.
// ABOUTME: Fans caller commands out to execution clients and routes the first matching reply back.

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/dedupe"
	"github.com/2389/wormhole-gateway/internal/metrics"
)

// ErrDuplicateRequest indicates a caller reused a request id that is still pending.
var ErrDuplicateRequest = errors.New("request_id already pending")

const completedMemory = 4096

// Config controls routing and deadlines.
type Config struct {
	// Routing is config.RoutingBroadcast or config.RoutingExclusive.
	Routing string
	// RequestTimeout bounds how long a caller waits for a reply. Zero waits forever.
	RequestTimeout time.Duration
	// DuplicateTTL is how long answered request ids are remembered.
	DuplicateTTL time.Duration
}

// ConfigFrom extracts the relay settings from the gateway configuration.
func ConfigFrom(cfg config.RelayConfig) Config {
	return Config{
		Routing:        cfg.Routing,
		RequestTimeout: cfg.RequestTimeout,
		DuplicateTTL:   cfg.DuplicateTTL,
	}
}

// pendingRequest is a caller waiting for the reply to one request id.
type pendingRequest struct {
	caller  *peer
	timer   *time.Timer
	created time.Time
}

// Relay owns every live connection, the broadcast set and the pending table.
type Relay struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	peers   map[*peer]struct{}
	clients map[string]*peer
	pending map[string]*pendingRequest
	closed  bool

	completed *dedupe.Cache
}

// New creates a Relay. m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if cfg.Routing == "" {
		cfg.Routing = config.RoutingBroadcast
	}
	if cfg.DuplicateTTL <= 0 {
		cfg.DuplicateTTL = time.Minute
	}
	return &Relay{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Execution clients run inside arbitrary third-party pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:     make(map[*peer]struct{}),
		clients:   make(map[string]*peer),
		pending:   make(map[string]*pendingRequest),
		completed: dedupe.New(cfg.DuplicateTTL, completedMemory),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// read loop until it closes.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := newPeer(uuid.NewString()[:8], conn, r.logger)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		p.close(ErrTextShutdown)
		return
	}
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("connection opened", "peer", p.ID, "remote", p.Remote)
	r.readLoop(p)
}

// ClientCount returns the size of the broadcast set.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// PendingCount returns the number of requests awaiting a reply.
func (r *Relay) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close fails every pending caller and closes all connections.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[string]*pendingRequest)
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for id, pr := range pending {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		if err := pr.caller.sendJSON(failure(ErrTextShutdown)); err != nil {
			r.logger.Debug("failed to notify caller of shutdown", "request_id", id, "error", err)
		}
	}
	for _, p := range peers {
		p.close(ErrTextShutdown)
	}
	r.completed.Close()
	r.updateGauges()
}

func (r *Relay) readLoop(p *peer) {
	defer r.disconnect(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				r.logger.Debug("connection read failed", "peer", p.ID, "role", p.role, "error", err)
			}
			return
		}

		if p.role == roleUnclassified {
			if isCallerMessage(data) {
				p.role = roleCaller
			} else {
				p.role = roleExecutionClient
				r.registerClient(p)
			}
		}

		switch p.role {
		case roleCaller:
			r.handleCaller(p, data)
		case roleExecutionClient:
			r.handleClientMessage(p, data)
		}
	}
}

// registerClient adds p to the broadcast set.
func (r *Relay) registerClient(p *peer) {
	r.mu.Lock()
	r.clients[p.ID] = p
	total := len(r.clients)
	r.mu.Unlock()

	r.logger.Info("=== EXECUTION CLIENT CONNECTED ===",
		"client_id", p.ID,
		"remote", p.Remote,
		"total_clients", total,
	)
	r.updateGauges()
}

// unregisterClient removes p from the broadcast set. It reports whether p was present.
func (r *Relay) unregisterClient(p *peer, reason string) bool {
	r.mu.Lock()
	_, ok := r.clients[p.ID]
	delete(r.clients, p.ID)
	total := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.logger.Info("=== EXECUTION CLIENT DISCONNECTED ===",
			"client_id", p.ID,
			"reason", reason,
			"total_clients", total,
		)
		r.updateGauges()
	}
	return ok
}

func (r *Relay) disconnect(p *peer) {
	r.mu.Lock()
	delete(r.peers, p)
	r.mu.Unlock()

	switch p.role {
	case roleExecutionClient:
		r.unregisterClient(p, "closed")
	case roleCaller:
		if n := r.purgeCaller(p); n > 0 {
			r.logger.Info("caller disconnected with pending requests", "peer", p.ID, "purged", n)
		}
	}
	_ = p.conn.Close()
	r.logger.Debug("connection closed", "peer", p.ID, "role", p.role)
}

// handleCaller processes one command from a caller connection.
func (r *Relay) handleCaller(p *peer, data []byte) {
	var msg CallerMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeSender {
		r.logger.Warn("discarding non-command message from caller", "peer", p.ID)
		return
	}
	if err := msg.validate(); err != nil {
		r.metrics.RelayCommand("invalid")
		r.replyFailure(p, msg.RequestID, err.Error())
		return
	}

	targets, reject := r.selectTargets()
	if reject != "" {
		outcome := "rejected"
		if reject == ErrTextNoClients {
			outcome = "no_clients"
		}
		r.metrics.RelayCommand(outcome)
		r.logger.Warn("command not relayed", "request_id", msg.RequestID, "reason", reject)
		r.replyFailure(p, msg.RequestID, reject)
		return
	}

	// The entry must exist before the first execution client can answer.
	if err := r.register(msg.RequestID, p); err != nil {
		r.metrics.RelayCommand("invalid")
		r.replyFailure(p, msg.RequestID, err.Error())
		return
	}

	delivered := r.broadcast(targets, msg.forward())
	if delivered == 0 {
		if _, ok := r.take(msg.RequestID); ok {
			r.metrics.RelayCommand("no_clients")
			r.replyFailure(p, msg.RequestID, ErrTextNoClients)
		}
		return
	}

	r.metrics.RelayCommand("broadcast")
	r.logger.Debug("command relayed",
		"request_id", msg.RequestID,
		"command", msg.Command,
		"clients", delivered,
	)
}

// selectTargets applies the routing policy. A non-empty reject is the
// failure text to send back instead of relaying.
func (r *Relay) selectTargets() (targets []*peer, reject string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) == 0 {
		return nil, ErrTextNoClients
	}
	if r.cfg.Routing == config.RoutingExclusive && len(r.clients) != 1 {
		return nil, fmt.Sprintf("exclusive routing requires exactly one execution client, %d connected", len(r.clients))
	}

	targets = make([]*peer, 0, len(r.clients))
	for _, c := range r.clients {
		targets = append(targets, c)
	}
	return targets, ""
}

// broadcast sends msg to every target, pruning those whose send fails.
// It returns how many sends succeeded.
func (r *Relay) broadcast(targets []*peer, msg any) int {
	delivered := 0
	for _, c := range targets {
		if err := c.sendJSON(msg); err != nil {
			r.logger.Warn("send to execution client failed", "client_id", c.ID, "error", err)
			if r.unregisterClient(c, "send failed") {
				c.close("send failed")
			}
			continue
		}
		delivered++
	}
	return delivered
}

// handleClientMessage routes an execution client message to its caller.
func (r *Relay) handleClientMessage(p *peer, data []byte) {
	requestID, ok := replyRequestID(data)
	if !ok {
		r.logger.Warn("discarding non-JSON message from execution client", "client_id", p.ID, "bytes", len(data))
		return
	}
	if requestID == "" {
		r.logger.Debug("execution client message without request_id", "client_id", p.ID)
		return
	}

	pr, ok := r.take(requestID)
	if !ok {
		if r.completed.Check(requestID) {
			r.metrics.RelayReply("duplicate")
			r.logger.Debug("dropping duplicate reply", "request_id", requestID, "client_id", p.ID)
			return
		}
		r.metrics.RelayReply("unmatched")
		r.logger.Warn("received reply for unknown request", "request_id", requestID, "client_id", p.ID)
		return
	}

	r.completed.Mark(requestID)
	if err := pr.caller.sendRaw(data); err != nil {
		r.logger.Warn("failed to deliver reply to caller", "request_id", requestID, "error", err)
		return
	}
	r.metrics.RelayReply("delivered")
	r.logger.Debug("reply delivered",
		"request_id", requestID,
		"client_id", p.ID,
		"elapsed", time.Since(pr.created),
	)
}

// register adds a pending entry and arms its deadline.
func (r *Relay) register(requestID string, caller *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[requestID]; exists {
		return ErrDuplicateRequest
	}
	pr := &pendingRequest{caller: caller, created: time.Now()}
	if r.cfg.RequestTimeout > 0 {
		pr.timer = time.AfterFunc(r.cfg.RequestTimeout, func() { r.expire(requestID, pr) })
	}
	r.pending[requestID] = pr
	r.metrics.SetRelayPending(len(r.pending))
	return nil
}

// take removes and returns the pending entry for requestID.
func (r *Relay) take(requestID string) (*pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pr, ok := r.pending[requestID]
	if !ok {
		return nil, false
	}
	delete(r.pending, requestID)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	r.metrics.SetRelayPending(len(r.pending))
	return pr, true
}

// expire fires when a request's deadline passes without a reply.
func (r *Relay) expire(requestID string, pr *pendingRequest) {
	r.mu.Lock()
	current, ok := r.pending[requestID]
	if !ok || current != pr {
		r.mu.Unlock()
		return
	}
	delete(r.pending, requestID)
	r.metrics.SetRelayPending(len(r.pending))
	r.mu.Unlock()

	r.completed.Mark(requestID)
	r.metrics.RelayReply("timeout")
	r.logger.Warn("request timed out", "request_id", requestID, "timeout", r.cfg.RequestTimeout)
	r.replyFailure(pr.caller, requestID, ErrTextTimeout)
}

// purgeCaller drops every pending entry owned by caller.
func (r *Relay) purgeCaller(caller *peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, pr := range r.pending {
		if pr.caller != caller {
			continue
		}
		if pr.timer != nil {
			pr.timer.Stop()
		}
		delete(r.pending, id)
		n++
	}
	if n > 0 {
		r.metrics.SetRelayPending(len(r.pending))
	}
	return n
}

func (r *Relay) replyFailure(p *peer, requestID, msg string) {
	if err := p.sendJSON(failure(msg)); err != nil {
		r.logger.Debug("failed to send failure to caller", "request_id", requestID, "error", err)
	}
}

func (r *Relay) updateGauges() {
	r.mu.Lock()
	clients, pending := len(r.clients), len(r.pending)
	r.mu.Unlock()

	r.metrics.SetRelayClients(clients)
	r.metrics.SetRelayPending(pending)
}
