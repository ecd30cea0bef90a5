// ABOUTME: One-shot caller client for the relay: dial, send one command, await one reply.
// ABOUTME: Never returns a Go error; every failure becomes an unsuccessful Result.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/metrics"
	"github.com/2389/wormhole-gateway/internal/relay"
)

// errNoClients marks a reply saying no execution client was connected.
// The command never left the relay, so it is safe to try again.
var errNoClients = errors.New(relay.ErrTextNoClients)

// Config controls how the client reaches the relay.
type Config struct {
	RelayURL string
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// Timeout bounds each attempt, from dialing to receiving the reply.
	Timeout        time.Duration
	InitialBackoff time.Duration
	// NetDial replaces the system dialer, for relays only reachable over a tailnet.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// ConfigFrom extracts the transport settings from the gateway configuration.
func ConfigFrom(cfg config.TransportConfig) Config {
	return Config{
		RelayURL:       cfg.RelayURL,
		MaxRetries:     cfg.MaxRetries,
		Timeout:        cfg.Timeout,
		InitialBackoff: cfg.InitialBackoff,
	}
}

// Client sends commands through the relay. It is safe for concurrent use;
// every command uses its own connection.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer
}

// New creates a Client. m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			NetDialContext:   cfg.NetDial,
		},
	}
}

// Send relays command with params to an execution client and returns its reply.
func (c *Client) Send(ctx context.Context, command string, params any) Result {
	raw, err := json.Marshal(params)
	if err != nil {
		return failed(fmt.Sprintf("encoding params: %v", err))
	}
	return c.do(ctx, command, relay.CallerMessage{Command: command, Params: raw})
}

// SendCode relays a legacy code body to an execution client.
func (c *Client) SendCode(ctx context.Context, code string) Result {
	return c.do(ctx, "code", relay.CallerMessage{Code: code})
}

func (c *Client) do(ctx context.Context, label string, msg relay.CallerMessage) Result {
	msg.Type = relay.TypeSender

	var last Result
	operation := func() (Result, error) {
		msg.RequestID = uuid.NewString()
		res, err := c.attempt(ctx, msg)
		last = res
		c.metrics.TransportAttempt(label, attemptOutcome(err))
		return res, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("relay command failed, retrying",
				"command", label,
				"error", err,
				"retry_in", next,
			)
		}),
	)
	if err == nil {
		return res
	}

	if last.Error != "" {
		return last
	}
	c.logger.Error("relay command failed", "command", label, "error", err)
	return failed(err.Error())
}

// attempt performs one dial/send/receive exchange. Errors that are not
// wrapped as permanent happened before the command reached any execution
// client and may be retried.
func (c *Client) attempt(ctx context.Context, msg relay.CallerMessage) (Result, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.RelayURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, backoff.Permanent(fmt.Errorf("dialing relay: %w", ctx.Err()))
		}
		return Result{}, fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()

	// Unblock the read below when the deadline passes or the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(msg); err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("sending command: %w", err))
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, backoff.Permanent(fmt.Errorf("waiting for reply: %w", ctx.Err()))
		}
		return Result{}, backoff.Permanent(fmt.Errorf("waiting for reply: %w", err))
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, backoff.Permanent(fmt.Errorf("malformed reply: %w", err))
	}
	if !res.Success && res.Error == relay.ErrTextNoClients {
		return res, errNoClients
	}
	return res, nil
}

func attemptOutcome(err error) string {
	var permanent *backoff.PermanentError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errNoClients):
		return "no_clients"
	case errors.As(err, &permanent):
		return "failed"
	default:
		return "unreachable"
	}
}
