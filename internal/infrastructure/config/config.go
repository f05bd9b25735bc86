package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Rackwise Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Database    DatabaseConfig    `yaml:"database"`
	WriteBuffer WriteBufferConfig `yaml:"write_buffer"`
	Cache       CacheConfig       `yaml:"cache"`
	Relay       RelayConfig       `yaml:"message_relay"`
	Callbacks   CallbacksConfig   `yaml:"callbacks"`
	Server      ServerConfig      `yaml:"server"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	URL       string              `yaml:"url"`
	Topics    []string            `yaml:"topics"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	ClientID  string              `yaml:"client_id"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains settings for the SQLite history store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// WriteBufferConfig contains batched write path settings.
type WriteBufferConfig struct {
	MaxSize       int `yaml:"max_size"`
	FlushInterval int `yaml:"flush_interval"` // milliseconds
	MaxRetries    int `yaml:"max_retries"`
}

// CacheConfig contains latest-by-device cache settings.
type CacheConfig struct {
	MaxSize int `yaml:"max_size"`
	TTL     int `yaml:"ttl"` // milliseconds
}

// RelayConfig contains message relay settings.
//
// Patterns maps an inbound topic category to an outbound topic template.
// Templates may contain the ${gatewayId} placeholder, replaced with the
// device ID extracted from the matched inbound topic.
type RelayConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Patterns    map[string]string `yaml:"patterns"`
	TopicPrefix string            `yaml:"topic_prefix"`
}

// CallbacksConfig contains HTTP callback settings.
type CallbacksConfig struct {
	Enabled    bool     `yaml:"enabled"`
	URLs       []string `yaml:"urls"`
	RetryLimit int      `yaml:"retry_limit"`
	RetryDelay int      `yaml:"retry_delay"` // milliseconds
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	WindowMs    int `yaml:"window_ms"`
	MaxRequests int `yaml:"max_requests"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains optional telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig contains ingest pipeline settings.
type PipelineConfig struct {
	// Workers is the number of ingest workers. Frames for the same device
	// always land on the same worker to preserve per-device ordering.
	Workers int `yaml:"workers"`

	// QueueSize is the per-worker frame queue depth.
	QueueSize int `yaml:"queue_size"`

	// ShutdownTimeout is the drain deadline in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RACKWISE_SECTION_KEY
// (e.g. RACKWISE_MQTT_URL, RACKWISE_DATABASE_PATH). A handful of
// conventional aliases (MQTT_URL, DB_HOST, PORT, DEBUG) are honoured
// for container deployments.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			URL:      "tcp://localhost:1883",
			Topics:   []string{"FamilyB/#", "FamilyT/#"},
			QoS:      1,
			ClientID: "rackwise-core",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/rackwise.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		WriteBuffer: WriteBufferConfig{
			MaxSize:       1000,
			FlushInterval: 5000,
			MaxRetries:    3,
		},
		Cache: CacheConfig{
			MaxSize: 10000,
			TTL:     3600000,
		},
		Relay: RelayConfig{
			Enabled:     false,
			TopicPrefix: "new",
		},
		Callbacks: CallbacksConfig{
			Enabled:    false,
			RetryLimit: 3,
			RetryDelay: 1000,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			RateLimit: RateLimitConfig{
				WindowMs:    60000,
				MaxRequests: 100,
			},
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pipeline: PipelineConfig{
			Workers:         4,
			QueueSize:       256,
			ShutdownTimeout: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := firstEnv("RACKWISE_MQTT_URL", "MQTT_URL"); v != "" {
		cfg.MQTT.URL = v
	}
	if v := os.Getenv("RACKWISE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RACKWISE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("RACKWISE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Server
	if v := firstEnv("RACKWISE_SERVER_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("RACKWISE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DEBUG"); v != "" && v != "0" && v != "false" {
		cfg.Logging.Level = "debug"
	}
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.URL == "" {
		errs = append(errs, "mqtt.url is required")
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, "mqtt.topics must contain at least one subscription pattern")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}

	// Write buffer validation
	if c.WriteBuffer.MaxSize < 1 {
		errs = append(errs, "write_buffer.max_size must be positive")
	}
	if c.WriteBuffer.FlushInterval < 1 {
		errs = append(errs, "write_buffer.flush_interval must be positive")
	}
	if c.WriteBuffer.MaxRetries < 0 {
		errs = append(errs, "write_buffer.max_retries cannot be negative")
	}

	// Cache validation
	if c.Cache.MaxSize < 1 {
		errs = append(errs, "cache.max_size must be positive")
	}
	if c.Cache.TTL < 1 {
		errs = append(errs, "cache.ttl must be positive")
	}

	// Relay validation
	if c.Relay.Enabled && len(c.Relay.Patterns) == 0 {
		errs = append(errs, "message_relay.patterns must be set when message_relay.enabled is true")
	}

	// Callbacks validation
	if c.Callbacks.Enabled && len(c.Callbacks.URLs) == 0 {
		errs = append(errs, "callbacks.urls must be set when callbacks.enabled is true")
	}
	if c.Callbacks.RetryLimit < 0 {
		errs = append(errs, "callbacks.retry_limit cannot be negative")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Pipeline validation
	if c.Pipeline.Workers < 1 {
		errs = append(errs, "pipeline.workers must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetFlushInterval returns the write buffer flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.WriteBuffer.FlushInterval) * time.Millisecond
}

// GetCacheTTL returns the cache entry TTL as a Duration.
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Millisecond
}

// GetCallbackRetryDelay returns the callback retry base delay as a Duration.
func (c *Config) GetCallbackRetryDelay() time.Duration {
	return time.Duration(c.Callbacks.RetryDelay) * time.Millisecond
}

// GetShutdownTimeout returns the pipeline drain deadline as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Pipeline.ShutdownTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}
