// ABOUTME: Gateway orchestrator that wires the store, tool packs, and MCP server
// ABOUTME: Manages HTTP/tsnet listener lifecycle and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/puch-mcp/internal/auth"
	"github.com/2389/puch-mcp/internal/builtins"
	"github.com/2389/puch-mcp/internal/config"
	"github.com/2389/puch-mcp/internal/dedupe"
	"github.com/2389/puch-mcp/internal/fetch"
	"github.com/2389/puch-mcp/internal/mcp"
	"github.com/2389/puch-mcp/internal/store"
	"github.com/2389/puch-mcp/internal/tools"
)

// Gateway orchestrates the puch-mcp server components.
// It owns the store, tool registry, MCP server, and listener lifecycle.
type Gateway struct {
	config      *config.Config
	store       store.Store
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// dedupe backs request-id replay protection and the fetch cache
	dedupe *dedupe.Cache

	// registry holds the builtin tool packs
	registry *tools.Registry

	// router dispatches tool calls with per-tool timeouts
	router *tools.Router

	// mcpServer is the MCP Streamable HTTP endpoint
	mcpServer *mcp.Server

	// endpoint is the base URL clients connect to (e.g. "http://host:8086/mcp")
	endpoint string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PUCH_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildVerifier assembles the token verifier chain: the static service
// token, persisted token records, and JWTs when a secret is configured.
func buildVerifier(cfg *config.Config, s store.Store, logger *slog.Logger) (auth.TokenVerifier, error) {
	verifiers := auth.MultiVerifier{
		auth.NewStaticVerifier(cfg.Auth.Token),
		auth.NewRecordVerifier(s),
	}

	if cfg.Auth.JWTSecret != "" {
		jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifiers = append(verifiers, jwtVerifier)
		logger.Info("JWT verification enabled")
	}

	return verifiers, nil
}

// registerBuiltinPacks registers all builtin packs with the registry.
func registerBuiltinPacks(registry *tools.Registry, cfg *config.Config, s store.Store, fetcher *fetch.Client) error {
	if err := registry.RegisterPack(builtins.ValidatePack(cfg.Tools.MyNumber)); err != nil {
		return fmt.Errorf("registering validate pack: %w", err)
	}
	if err := registry.RegisterPack(builtins.JobsPack(fetcher)); err != nil {
		return fmt.Errorf("registering jobs pack: %w", err)
	}
	if err := registry.RegisterPack(builtins.AstroPack()); err != nil {
		return fmt.Errorf("registering astro pack: %w", err)
	}
	if err := registry.RegisterPack(builtins.ImagePack()); err != nil {
		return fmt.Errorf("registering image pack: %w", err)
	}
	if err := registry.RegisterPack(builtins.ResumePack(s)); err != nil {
		return fmt.Errorf("registering resume pack: %w", err)
	}
	return nil
}

// determineEndpoint resolves the MCP endpoint URL clients should use.
func determineEndpoint(cfg *config.Config) string {
	if envURL := os.Getenv("PUCH_MCP_ENDPOINT"); envURL != "" {
		return envURL
	}
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname + "/mcp"
		}
		return "http://" + cfg.Tailscale.Hostname + "/mcp"
	}
	return "http://" + cfg.Server.HTTPAddr + "/mcp"
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	dedupeCache := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k entries

	verifier, err := buildVerifier(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	fetcher := fetch.NewClient(fetch.Config{
		Timeout: cfg.Tools.FetchTimeout,
		Cache:   dedupeCache,
	})

	registry := tools.NewRegistry(logger.With("component", "registry"))
	router := tools.NewRouter(tools.RouterConfig{
		Registry: registry,
		Logger:   logger.With("component", "router"),
		Timeout:  cfg.Tools.CallTimeout,
	})
	if err := registerBuiltinPacks(registry, cfg, s, fetcher); err != nil {
		_ = s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		logger:   logger.With("component", "gateway"),
		dedupe:   dedupeCache,
		registry: registry,
		router:   router,
		endpoint: determineEndpoint(cfg),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry: registry,
		Router:   router,
		Logger:   logger.With("component", "mcp"),
		Verifier: verifier,
		Usage:    s,
		Dedupe:   dedupeCache,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer
	gw.mcpServer.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Endpoint returns the MCP endpoint URL clients should connect to.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

// Handler returns the gateway's HTTP handler, used in tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String(), "mcp_endpoint", g.endpoint)
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
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
	return filepath.Join(homeDir, ".local", "share", "puch-mcp", "tailscale"), nil
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

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
// With funnel enabled the endpoint is exposed to the public internet over
// HTTPS, which is how MCP clients outside the tailnet reach this server.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
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
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updateEndpointFromStatus(status)

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
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

// updateEndpointFromStatus updates the MCP endpoint to use the Tailscale DNS name.
func (g *Gateway) updateEndpointFromStatus(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	cleanDNS := trimDot(status.Self.DNSName)
	scheme := "http"
	if g.config.Tailscale.Funnel {
		scheme = "https"
	}
	newEndpoint := scheme + "://" + cleanDNS + "/mcp"
	if newEndpoint != g.endpoint {
		g.logger.Info("updated MCP endpoint to use Tailscale DNS name", "old", g.endpoint, "new", newEndpoint)
		g.endpoint = newEndpoint
	}
}

func trimDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable and tools are registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unreachable: %v", err)
		return
	}
	count := g.registry.ToolCount()
	if count == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", count)
}
