// ABOUTME: Configuration loading and parsing for the arbiter runtime
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete arbiter configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	State    StateConfig    `yaml:"state"`
	Channel  ChannelConfig  `yaml:"channel"`
	Jobs     JobsConfig     `yaml:"jobs"`
	MCP      MCPConfig      `yaml:"mcp"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StateConfig selects and tunes the state store backend
type StateConfig struct {
	// Backend is "memory" (single instance) or "redis" (multi instance)
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`

	DefaultTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// RedisConfig holds connection settings for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChannelConfig holds connection and streaming limits
type ChannelConfig struct {
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`
	MaxChunkSize          int `yaml:"max_chunk_size"`

	IdleConnectionTimeout time.Duration `yaml:"-"`
	MinChunkDelay         time.Duration `yaml:"-"`
	StreamTimeout         time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleConnectionTimeoutRaw string `yaml:"idle_connection_timeout"`
	MinChunkDelayRaw         string `yaml:"min_chunk_delay"`
	StreamTimeoutRaw         string `yaml:"stream_timeout"`
}

// JobsConfig holds background job retention configuration
type JobsConfig struct {
	// CleanupSchedule is a cron spec for the expired-job sweep (e.g. "@every 10m")
	CleanupSchedule string `yaml:"cleanup_schedule"`

	Retention time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RetentionRaw string `yaml:"retention"`
}

// MCPConfig holds MCP bridge authentication configuration
type MCPConfig struct {
	RequireAuth bool   `yaml:"require_auth"`
	JWTSecret   string `yaml:"jwt_secret"`
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding config value is absent.
const (
	DefaultStateTTL              = 4 * time.Hour
	DefaultMaxConnectionsPerUser = 5
	DefaultIdleConnectionTimeout = 30 * time.Minute
	DefaultMaxChunkSize          = 4096
	DefaultMinChunkDelay         = 50 * time.Millisecond
	DefaultStreamTimeout         = 5 * time.Minute
	DefaultJobRetention          = 24 * time.Hour
	DefaultCleanupSchedule       = "@every 10m"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued tunables with their defaults
func (c *Config) applyDefaults() {
	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.State.DefaultTTL == 0 {
		c.State.DefaultTTL = DefaultStateTTL
	}
	if c.Channel.MaxConnectionsPerUser == 0 {
		c.Channel.MaxConnectionsPerUser = DefaultMaxConnectionsPerUser
	}
	if c.Channel.IdleConnectionTimeout == 0 {
		c.Channel.IdleConnectionTimeout = DefaultIdleConnectionTimeout
	}
	if c.Channel.MaxChunkSize == 0 {
		c.Channel.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.Channel.MinChunkDelay == 0 {
		c.Channel.MinChunkDelay = DefaultMinChunkDelay
	}
	if c.Channel.StreamTimeout == 0 {
		c.Channel.StreamTimeout = DefaultStreamTimeout
	}
	if c.Jobs.Retention == 0 {
		c.Jobs.Retention = DefaultJobRetention
	}
	if c.Jobs.CleanupSchedule == "" {
		c.Jobs.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.State.Backend {
	case "memory":
		// Single-instance only; no further settings required
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required when state.backend is redis")
		}
	default:
		return fmt.Errorf("state.backend must be \"memory\" or \"redis\", got %q", c.State.Backend)
	}

	if c.MCP.RequireAuth && c.MCP.JWTSecret == "" {
		return fmt.Errorf("mcp.jwt_secret is required when mcp.require_auth is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.State.DefaultTTLRaw, &cfg.State.DefaultTTL, "default_ttl"},
		{cfg.Channel.IdleConnectionTimeoutRaw, &cfg.Channel.IdleConnectionTimeout, "idle_connection_timeout"},
		{cfg.Channel.MinChunkDelayRaw, &cfg.Channel.MinChunkDelay, "min_chunk_delay"},
		{cfg.Channel.StreamTimeoutRaw, &cfg.Channel.StreamTimeout, "stream_timeout"},
		{cfg.Jobs.RetentionRaw, &cfg.Jobs.Retention, "retention"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
