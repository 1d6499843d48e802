// ABOUTME: Entry point for the puch-mcp server
// ABOUTME: Serves builtin tool packs over the MCP Streamable HTTP transport

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/puch-mcp/internal/auth"
	"github.com/2389/puch-mcp/internal/config"
	"github.com/2389/puch-mcp/internal/gateway"
	"github.com/2389/puch-mcp/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __  _   _  ___| |__        _ __ ___   ___ _ __
| '_ \| | | |/ __| '_ \ _____| '_ ' _ \ / __| '_ \
| |_) | |_| | (__| | | |_____| | | | | | (__| |_) |
| .__/ \__,_|\___|_| |_|     |_| |_| |_|\___| .__/
|_|                                         |_|
`

// getConfigPath returns the path to the server config file.
// Priority: PUCH_CONFIG env var > XDG_CONFIG_HOME/puch/config.yaml > ~/.config/puch/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PUCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "puch", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/puch > ~/.local/share/puch
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "puch")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: puch-mcp <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the MCP server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  token <create|list|delete>  Manage client API tokens")
		fmt.Println("  usage                  Show tool usage counts")
		fmt.Println("  health                 Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(ctx)
	case "usage":
		err = runUsage(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to pure environment
// configuration (AUTH_TOKEN, MY_NUMBER) when no file exists.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("no config file at %s and environment incomplete: %w", configPath, err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configSource, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configSource)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting puch-mcp",
		"config", configSource,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	green.Print("    ▶ ")
	fmt.Printf("MCP:       %s\n\n", gw.Endpoint())

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// healthURL resolves the readiness URL for the running server. With tailscale
// enabled there is no local TCP listener, so the check goes over the tailnet
// hostname instead.
func healthURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.Funnel {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s/health/ready", scheme, cfg.Tailscale.Hostname)
	}
	return fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := healthURL(cfg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runToken manages persisted client API tokens.
func runToken(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: puch-mcp token <create|list|delete>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	switch os.Args[2] {
	case "create":
		return runTokenCreate(ctx, cfg, s, os.Args[3:])
	case "list":
		return runTokenList(ctx, s)
	case "delete":
		return runTokenDelete(ctx, s, os.Args[3:])
	default:
		return fmt.Errorf("unknown token command: %s", os.Args[2])
	}
}

// tokenCreateFlags holds parsed flags for token create.
type tokenCreateFlags struct {
	name string
	caps []string
	ttl  time.Duration
}

func parseTokenCreateFlags(args []string) (*tokenCreateFlags, error) {
	flags := &tokenCreateFlags{caps: []string{"*"}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--name requires a value")
			}
			flags.name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			flags.name = strings.TrimPrefix(arg, "--name=")
		case arg == "--caps":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--caps requires a value")
			}
			flags.caps = strings.Split(args[i+1], ",")
			i++
		case strings.HasPrefix(arg, "--caps="):
			flags.caps = strings.Split(strings.TrimPrefix(arg, "--caps="), ",")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("parsing --ttl: %w", err)
			}
			flags.ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return nil, fmt.Errorf("parsing --ttl: %w", err)
			}
			flags.ttl = d
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	if strings.TrimSpace(flags.name) == "" {
		return nil, fmt.Errorf("--name flag is required")
	}
	return flags, nil
}

// defaultJWTTTL bounds minted JWTs when --ttl is not given. Signed tokens are
// stateless and cannot be revoked, so they always carry an expiry.
const defaultJWTTTL = 30 * 24 * time.Hour

// mintJWT signs an HS256 client token carrying the subject and capabilities.
func mintJWT(secret, subject string, caps []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	v, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	token, err := v.Generate(subject, caps, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, time.Now().Add(ttl), nil
}

func runTokenCreate(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, args []string) error {
	flags, err := parseTokenCreateFlags(args)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)

	// With a JWT secret configured, mint a signed stateless token instead of
	// persisting a record.
	if cfg.Auth.JWTSecret != "" {
		token, expires, err := mintJWT(cfg.Auth.JWTSecret, flags.name, flags.caps, flags.ttl)
		if err != nil {
			return err
		}

		green.Printf("  ✓ Minted JWT for %q\n", flags.name)
		fmt.Printf("  Capabilities: %s\n", strings.Join(flags.caps, ", "))
		fmt.Printf("  Expires:      %s\n", expires.Format("Jan 02, 2006"))
		fmt.Println()
		fmt.Println("  The token is shown once. Store it now:")
		fmt.Println()
		fmt.Printf("    %s\n\n", token)
		return nil
	}

	// Generate the raw token: 32 random bytes, base64url
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := auth.HashToken(token)
	if err != nil {
		return fmt.Errorf("hashing token: %w", err)
	}

	rec := &auth.TokenRecord{
		Name:         flags.name,
		Hash:         hash,
		Capabilities: flags.caps,
	}
	if flags.ttl > 0 {
		expires := time.Now().Add(flags.ttl).UTC()
		rec.ExpiresAt = &expires
	}

	if err := s.CreateTokenRecord(ctx, rec); err != nil {
		return fmt.Errorf("saving token record: %w", err)
	}

	green.Printf("  ✓ Created token %q\n", flags.name)
	fmt.Printf("  Capabilities: %s\n", strings.Join(flags.caps, ", "))
	if rec.ExpiresAt != nil {
		fmt.Printf("  Expires:      %s\n", rec.ExpiresAt.Format("Jan 02, 2006"))
	}
	fmt.Println()
	fmt.Println("  The token is shown once. Store it now:")
	fmt.Println()
	fmt.Printf("    %s\n\n", token)
	return nil
}

func runTokenList(ctx context.Context, s *store.SQLiteStore) error {
	records, err := s.ListTokenRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("no tokens")
		return nil
	}

	for _, rec := range records {
		expires := "never"
		if rec.ExpiresAt != nil {
			expires = rec.ExpiresAt.Format("2006-01-02")
			if rec.Expired() {
				expires += " (expired)"
			}
		}
		fmt.Printf("%-20s caps=%-30s expires=%s\n", rec.Name, strings.Join(rec.Capabilities, ","), expires)
	}
	return nil
}

func runTokenDelete(ctx context.Context, s *store.SQLiteStore, args []string) error {
	var name string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	if err := s.DeleteTokenRecord(ctx, name); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	fmt.Printf("deleted token %q\n", name)
	return nil
}

// formatUsageSummary renders aggregated usage rows as an aligned table.
func formatUsageSummary(rows []store.UsageSummaryRow) string {
	if len(rows) == 0 {
		return "no tool usage recorded\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %8s %8s\n", "TOOL", "CALLS", "ERRORS")
	for _, row := range rows {
		fmt.Fprintf(&b, "%-28s %8d %8d\n", row.ToolName, row.Calls, row.Errors)
	}
	return b.String()
}

// runUsage prints per-tool call counts from the audit log.
func runUsage(ctx context.Context) error {
	since := 24 * time.Hour
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--since":
			if i+1 >= len(args) {
				return fmt.Errorf("--since requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			since = d
			i++
		case strings.HasPrefix(arg, "--since="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--since="))
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			since = d
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	rows, err := s.UsageSummary(ctx, time.Now().Add(-since))
	if err != nil {
		return fmt.Errorf("summarizing usage: %w", err)
	}
	fmt.Print(formatUsageSummary(rows))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("puch-mcp configuration setup")
	fmt.Println("============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "puch.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	authToken := prompt(reader, "Service bearer token (clients authenticate with this)", "")
	if authToken == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		authToken = base64.RawURLEncoding.EncodeToString(raw)
		fmt.Printf("Generated token: %s\n", authToken)
	}
	myNumber := prompt(reader, "Phone number for validate ({country_code}{number}, e.g. 919876543210)", "")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "puch-mcp")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "yes")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# puch-mcp configuration\n")
	cfg.WriteString("# Generated by puch-mcp init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", authToken))
	cfg.WriteString("\n")

	cfg.WriteString("tools:\n")
	cfg.WriteString(fmt.Sprintf("  my_number: \"%s\"\n", myNumber))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  puch-mcp serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
