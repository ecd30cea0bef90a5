// ABOUTME: Gateway orchestrator that runs the relay, the OpenAI-compatible API and the proxy.
// ABOUTME: Owns listener setup (TCP or Tailscale), the shared components and graceful shutdown.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/wormhole-gateway/internal/agent"
	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/metrics"
	"github.com/2389/wormhole-gateway/internal/prompt"
	"github.com/2389/wormhole-gateway/internal/relay"
	"github.com/2389/wormhole-gateway/internal/session"
	"github.com/2389/wormhole-gateway/internal/store"
	"github.com/2389/wormhole-gateway/internal/transcript"
	"github.com/2389/wormhole-gateway/internal/transport"
)

// transcriptDrainTimeout bounds how long shutdown waits for queued transcript writes.
const transcriptDrainTimeout = 5 * time.Second

// Options selects which components a gateway process runs.
type Options struct {
	// Relay runs the WebSocket relay in-process.
	Relay bool
	// API runs the OpenAI-compatible HTTP API and the agent engine.
	API bool
	// Proxy runs the pass-through WebSocket proxy to transport.relay_url.
	Proxy bool

	// Commander replaces the relay transport client used by the engine.
	Commander agent.Commander
}

// Gateway orchestrates the wormhole-gateway server components.
type Gateway struct {
	config  *config.Config
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	relay      *relay.Relay
	proxy      *relay.Proxy
	engine     *agent.Engine
	sessions   *session.Store
	turns      store.Store
	transcript *transcript.Writer

	relayServer *http.Server
	apiServer   *http.Server
	proxyServer *http.Server
	tsnetServer *tsnet.Server
}

// component is one HTTP server and where it listens.
type component struct {
	name   string
	server *http.Server
	addr   string
	// port is used on the tailnet, where server addresses are ignored.
	port string
}

type boundListener struct {
	name   string
	server *http.Server
	ln     net.Listener
}

// New creates a Gateway with the components selected by opts.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Gateway, error) {
	if !opts.Relay && !opts.API && !opts.Proxy {
		return nil, errors.New("no components enabled")
	}

	gw := &Gateway{
		config:  cfg,
		opts:    opts,
		logger:  logger,
		metrics: metrics.New(),
	}

	if opts.Relay {
		gw.relay = relay.New(relay.ConfigFrom(cfg.Relay), logger.With("component", "relay"), gw.metrics)
		mux := http.NewServeMux()
		mux.Handle("/", gw.relay)
		mux.HandleFunc("/health", gw.handleHealth)
		if cfg.Metrics.Enabled && !opts.API {
			mux.Handle(cfg.Metrics.Path, gw.metrics.Handler())
		}
		gw.relayServer = &http.Server{
			Addr:              cfg.Server.RelayAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if opts.API {
		if err := gw.initAPI(); err != nil {
			gw.closeComponents()
			return nil, err
		}
	}

	if opts.Proxy {
		gw.proxy = relay.NewProxy(cfg.Transport.RelayURL, logger.With("component", "proxy"))
		gw.proxyServer = &http.Server{
			Addr:              cfg.Server.ProxyAddr,
			Handler:           gw.proxy,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return gw, nil
}

// initAPI builds the agent engine and its collaborators.
func (g *Gateway) initAPI() error {
	cfg := g.config

	composer, err := prompt.New(prompt.Options{
		PromptsFile: cfg.Agent.PromptsFile,
		SystemFile:  cfg.Agent.SystemFile,
		RulesFile:   cfg.Agent.RulesFile,
	})
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	var turns agent.TurnLogger
	if cfg.Transcript.Enabled {
		g.turns, err = initStore(cfg.Transcript)
		if err != nil {
			return err
		}
		g.transcript = transcript.New(cfg.Transcript.Dir, g.turns, g.logger.With("component", "transcript"))
		turns = g.transcript
	}

	cmd := g.opts.Commander
	if cmd == nil {
		tcfg := transport.ConfigFrom(cfg.Transport)
		if cfg.Tailscale.Enabled {
			tcfg.NetDial = g.dialTailnet
		}
		cmd = transport.New(tcfg, g.logger.With("component", "transport"), g.metrics)
	}

	g.sessions = session.NewStore(cfg.Agent.SessionCacheSize, cfg.Agent.SessionTTL, g.logger.With("component", "session"))
	g.engine = agent.New(agent.ConfigFrom(cfg.Agent), cmd, composer, turns, g.logger, g.metrics)

	g.apiServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.requestLogger(g.apiMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// initStore opens the turn index. Without a database path numbering lives
// in memory and restarts with the process.
func initStore(cfg config.TranscriptConfig) (store.Store, error) {
	if cfg.Database == "" {
		return store.NewMockStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening transcript database: %w", err)
	}
	return s, nil
}

// dialTailnet reaches the relay through the tsnet node once it is up.
func (g *Gateway) dialTailnet(ctx context.Context, network, addr string) (net.Conn, error) {
	if g.tsnetServer == nil {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	return g.tsnetServer.Dial(ctx, network, addr)
}

// Handler returns the API handler, or nil when the API is not enabled.
func (g *Gateway) Handler() http.Handler {
	if g.apiServer == nil {
		return nil
	}
	return g.apiServer.Handler
}

// RelayHandler returns the relay listener's handler, or nil when the relay
// is not enabled.
func (g *Gateway) RelayHandler() http.Handler {
	if g.relayServer == nil {
		return nil
	}
	return g.relayServer.Handler
}

func (g *Gateway) components() []component {
	var out []component
	if g.relayServer != nil {
		out = append(out, component{name: "relay", server: g.relayServer, addr: g.config.Server.RelayAddr, port: portOf(g.config.Server.RelayAddr, "8765")})
	}
	if g.apiServer != nil {
		out = append(out, component{name: "API", server: g.apiServer, addr: g.config.Server.HTTPAddr, port: "80"})
	}
	if g.proxyServer != nil {
		out = append(out, component{name: "proxy", server: g.proxyServer, addr: g.config.Server.ProxyAddr, port: portOf(g.config.Server.ProxyAddr, "8766")})
	}
	return out
}

// portOf returns the port of a host:port address, or def.
func portOf(addr, def string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil && port != "" {
		return port
	}
	return def
}

func closeListeners(lns []boundListener) {
	for _, l := range lns {
		_ = l.ln.Close()
	}
}

// setupTCPListeners creates standard TCP listeners for every component.
func (g *Gateway) setupTCPListeners() ([]boundListener, error) {
	comps := g.components()
	attrs := make([]any, 0, 2*len(comps))
	for _, c := range comps {
		attrs = append(attrs, c.name+"_addr", c.addr)
	}
	g.logger.Info("starting gateway", attrs...)

	var out []boundListener
	for _, c := range comps {
		ln, err := net.Listen("tcp", c.addr)
		if err != nil {
			closeListeners(out)
			return nil, fmt.Errorf("listening on %s address: %w", c.name, err)
		}
		out = append(out, boundListener{name: c.name, server: c.server, ln: ln})
	}
	return out, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) ([]boundListener, error) {
	if g.config.Tailscale.Enabled {
		g.logger.Warn("server addresses are ignored when tailscale is enabled, only their ports are used")
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts the gateway servers and blocks until the context is canceled
// or a server fails, then shuts everything down. It returns nil on a
// graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	listeners, err := g.setupListeners(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		eg.Go(func() error {
			g.logger.Info(l.name+" server listening", "addr", l.ln.Addr().String())
			if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wormhole-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListeners brings up a tsnet node and listens on it for every component.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) ([]boundListener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var out []boundListener
	for _, c := range g.components() {
		var ln net.Listener
		if c.server == g.apiServer && tsCfg.HTTPS {
			ln, err = g.createTailscaleTLSListener()
		} else {
			ln, err = g.tsnetServer.Listen("tcp", ":"+c.port)
			if err != nil {
				err = fmt.Errorf("listening on tailscale %s port: %w", c.name, err)
			}
		}
		if err != nil {
			closeListeners(out)
			return nil, err
		}
		out = append(out, boundListener{name: c.name, server: c.server, ln: ln})
	}
	return out, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases what New created when the servers never ran.
func (g *Gateway) closeComponents() {
	if g.relay != nil {
		g.relay.Close()
	}
	if g.transcript != nil {
		_ = g.transcript.Close(context.Background())
	}
	if g.turns != nil {
		_ = g.turns.Close()
	}
}

// Shutdown stops the servers, fails pending relay callers, drains the
// transcript queue and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	for _, c := range g.components() {
		errs = appendCloseError(errs, c.name+" shutdown", c.server.Shutdown(ctx))
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	if g.relay != nil {
		g.relay.Close()
	}

	if g.transcript != nil {
		drainCtx, cancel := context.WithTimeout(ctx, transcriptDrainTimeout)
		errs = appendCloseError(errs, "transcript drain", g.transcript.Close(drainCtx))
		cancel()
	}
	if g.turns != nil {
		errs = appendCloseError(errs, "store close", g.turns.Close())
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when commands can be delivered. With an
// in-process relay that needs at least one execution client.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.relay == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready (external relay)"))
		return
	}
	clients := g.relay.ClientCount()
	if clients == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no execution clients connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d execution clients)", clients)
}
