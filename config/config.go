// Package config loads the YAML configuration used by meshctl and other
// host processes that assemble a Mesh.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/meshos/core"
)

// Version is the only configuration schema version understood by Load.
const Version = "1"

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Oracle providers. ProviderNone runs the mesh without an oracle: negotiations
// never converge and reasoning cycles fail.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config represents the top-level meshos.yml configuration
type Config struct {
	Version   string        `yaml:"version"`
	Workspace string        `yaml:"workspace,omitempty"` // Default workspace for CLI commands
	Store     StoreConfig   `yaml:"store"`
	Oracle    OracleConfig  `yaml:"oracle"`
	Log       LogConfig     `yaml:"log"`
	Mesh      MeshConfig    `yaml:"mesh"`
	Metrics   MetricsConfig `yaml:"metrics,omitempty"`
	Sources   SourcesConfig `yaml:"sources,omitempty"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis,omitempty"`
	SQLite  SQLiteConfig `yaml:"sqlite,omitempty"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Instance string `yaml:"instance"` // Key namespace shared by cooperating processes
}

// SQLiteConfig configures the SQLite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// OracleConfig configures the LLM behind negotiation and reasoning
type OracleConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"` // Falls back to the provider's environment variable
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// MeshConfig tunes mesh components
type MeshConfig struct {
	MaxTeamSize   int           `yaml:"max_team_size,omitempty"`
	SourceTimeout time.Duration `yaml:"source_timeout,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // host:port serving /metrics; empty disables the endpoint
}

// SourcesConfig maps collaborator system names to JSON files holding their
// current state. Files are re-read on every cycle.
type SourcesConfig map[string]string

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{Version: Version}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Backend == BackendRedis {
		if c.Store.Redis.Addr == "" {
			c.Store.Redis.Addr = "localhost:6379"
		}
		if c.Store.Redis.Instance == "" {
			c.Store.Redis.Instance = "meshos"
		}
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = ProviderNone
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Mesh.MaxTeamSize == 0 {
		c.Mesh.MaxTeamSize = 5
	}
	if c.Mesh.SourceTimeout == 0 {
		c.Mesh.SourceTimeout = 10 * time.Second
	}
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("unsupported version: %q (expected: %q)", c.Version, Version)
	}

	c.applyDefaults()

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		// Addr and Instance are defaulted above
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store.backend '%s' (valid: memory, redis, sqlite)", c.Store.Backend)
	}

	switch c.Oracle.Provider {
	case ProviderNone, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown oracle.provider '%s' (valid: none, anthropic, openai)", c.Oracle.Provider)
	}
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("oracle.timeout must be >= 0, got %s", c.Oracle.Timeout)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log.format '%s' (valid: json, text)", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log.level '%s'", c.Log.Level)
	}

	if c.Mesh.MaxTeamSize < 1 {
		return fmt.Errorf("mesh.max_team_size must be >= 1, got %d", c.Mesh.MaxTeamSize)
	}
	if c.Mesh.SourceTimeout < 0 {
		return fmt.Errorf("mesh.source_timeout must be >= 0, got %s", c.Mesh.SourceTimeout)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr must be host:port: %w", err)
		}
	}

	for name, path := range c.Sources {
		if !isSystem(name) {
			return fmt.Errorf("sources: unknown collaborator system '%s'", name)
		}
		if path == "" {
			return fmt.Errorf("sources.%s: path is required", name)
		}
	}

	return nil
}

func isSystem(name string) bool {
	for _, s := range core.Systems {
		if string(s) == name {
			return true
		}
	}
	return false
}

// ResolveAPIKey returns the configured oracle key, falling back to the provider's
// conventional environment variable.
func (o OracleConfig) ResolveAPIKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	switch o.Provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// Load reads and validates meshos.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
