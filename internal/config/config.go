// ABOUTME: Configuration loading and parsing for puch-mcp
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default listen address: all interfaces, the port the Puch platform expects.
const DefaultHTTPAddr = "0.0.0.0:8086"

// Config represents the complete puch-mcp configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Tools     ToolsConfig     `yaml:"tools"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration.
// Token is the static service bearer token; JWTSecret enables additional
// HS256 client tokens minted via "puch-mcp token".
type AuthConfig struct {
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`
}

// ToolsConfig holds tool behavior configuration
type ToolsConfig struct {
	MyNumber     string        `yaml:"my_number"`
	FetchTimeout time.Duration `yaml:"-"`
	CallTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	FetchTimeoutRaw string `yaml:"fetch_timeout"`
	CallTimeoutRaw  string `yaml:"call_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// AUTH_TOKEN and MY_NUMBER environment variables override the corresponding
// config fields so a bare .env-style deployment works without a config file edit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a config purely from environment variables and defaults,
// for running without a config file at all.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies AUTH_TOKEN and MY_NUMBER over the loaded values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("MY_NUMBER"); v != "" {
		c.Tools.MyNumber = v
	}
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = "puch.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.Token == "" {
		return fmt.Errorf("auth.token is required (set AUTH_TOKEN or auth.token)")
	}

	if c.Tools.MyNumber == "" {
		return fmt.Errorf("tools.my_number is required (set MY_NUMBER or tools.my_number)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Tools.FetchTimeoutRaw != "" {
		cfg.Tools.FetchTimeout, err = time.ParseDuration(cfg.Tools.FetchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing fetch_timeout %q: %w", cfg.Tools.FetchTimeoutRaw, err)
		}
	}

	if cfg.Tools.CallTimeoutRaw != "" {
		cfg.Tools.CallTimeout, err = time.ParseDuration(cfg.Tools.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Tools.CallTimeoutRaw, err)
		}
	}

	return nil
}
