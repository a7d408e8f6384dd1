// Package config handles gateway configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level gateway configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Session SessionConfig `json:"session"`
	Agent   AgentConfig   `json:"agent"`
	Broker  BrokerConfig  `json:"broker,omitempty"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr            string   `json:"addr"`                        // e.g. ":8080"
	TLSCert         string   `json:"tls_cert,omitempty"`
	TLSKey          string   `json:"tls_key,omitempty"`
	WSPath          string   `json:"ws_path,omitempty"`           // default "/api/v1/ws/readify"
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // WebSocket/CORS origins; default ["*"]
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max inbound frame; default 64KB
	UpgradesPerSec  float64  `json:"upgrades_per_second,omitempty"`
	UpgradeBurst    int      `json:"upgrade_burst,omitempty"`
}

// AuthConfig defines how handshake tokens are verified.
type AuthConfig struct {
	Provider    string   `json:"provider,omitempty"`      // "jwt" (default) or "jwks"
	JWTSecret   string   `json:"jwt_secret,omitempty"`    // HMAC secret for provider "jwt"
	UserIDClaim string   `json:"user_id_claim,omitempty"` // default "userId"
	JWKSURL     string   `json:"jwks_url,omitempty"`      // required for provider "jwks"
	Issuer      string   `json:"issuer,omitempty"`        // optional iss check
	CacheTTL    Duration `json:"cache_ttl,omitempty"`     // 0 disables the verification cache
}

// StorageConfig defines the project/file database.
type StorageConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "readify.db" or ":memory:"
}

// SessionConfig defines per-connection behavior.
type SessionConfig struct {
	CloseSuperseded   bool     `json:"close_superseded,omitempty"` // close a user's older connection when a new one registers
	MessagesPerSecond float64  `json:"messages_per_second,omitempty"`
	Burst             int      `json:"burst,omitempty"`
	WriteTimeout      Duration `json:"write_timeout,omitempty"`
	PingInterval      Duration `json:"ping_interval,omitempty"`
	PongWait          Duration `json:"pong_wait,omitempty"`
}

// AgentConfig points at the downstream streaming agent service.
type AgentConfig struct {
	BaseURL               string   `json:"base_url"`
	StreamPath            string   `json:"stream_path,omitempty"` // default "/api/v1/agent/stream"
	Vendor                string   `json:"vendor,omitempty"`      // forwarded as the "vendor" query parameter
	MaxConcurrentStreams  int64    `json:"max_concurrent_streams,omitempty"`
	ResponseHeaderTimeout Duration `json:"response_header_timeout,omitempty"`
	MaxEventBytes         int      `json:"max_event_bytes,omitempty"` // largest single upstream event; default 1MB
}

// BrokerConfig selects how broadcasts reach other gateway instances.
type BrokerConfig struct {
	Driver        string `json:"driver,omitempty"` // "local" (default) or "redis"
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	Channel       string `json:"channel,omitempty"` // default "readify:broadcast"
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.WSPath != "" && !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	switch c.Auth.Provider {
	case "", "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
		if knownWeakSecrets[c.Auth.JWTSecret] {
			return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when provider is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.provider: %q", c.Auth.Provider)
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	switch c.Broker.Driver {
	case "", "local":
	case "redis":
		if c.Broker.RedisAddr == "" {
			return fmt.Errorf("broker.redis_addr is required when driver is redis")
		}
	default:
		return fmt.Errorf("unknown broker.driver: %q", c.Broker.Driver)
	}
	return nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/api/v1/ws/readify"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Server.UpgradesPerSec == 0 {
		c.Server.UpgradesPerSec = 5
	}
	if c.Server.UpgradeBurst == 0 {
		c.Server.UpgradeBurst = 20
	}
	if c.Auth.Provider == "" {
		c.Auth.Provider = "jwt"
	}
	if c.Auth.UserIDClaim == "" {
		c.Auth.UserIDClaim = "userId"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "readify.db"
	}
	if c.Session.MessagesPerSecond == 0 {
		c.Session.MessagesPerSecond = 20
	}
	if c.Session.Burst == 0 {
		c.Session.Burst = 40
	}
	if c.Session.WriteTimeout.Duration == 0 {
		c.Session.WriteTimeout.Duration = 10 * time.Second
	}
	if c.Session.PingInterval.Duration == 0 {
		c.Session.PingInterval.Duration = 30 * time.Second
	}
	if c.Session.PongWait.Duration == 0 {
		c.Session.PongWait.Duration = 60 * time.Second
	}
	if c.Agent.StreamPath == "" {
		c.Agent.StreamPath = "/api/v1/agent/stream"
	}
	if c.Agent.MaxConcurrentStreams == 0 {
		c.Agent.MaxConcurrentStreams = 256
	}
	if c.Agent.ResponseHeaderTimeout.Duration == 0 {
		c.Agent.ResponseHeaderTimeout.Duration = 30 * time.Second
	}
	if c.Agent.MaxEventBytes == 0 {
		c.Agent.MaxEventBytes = 1 << 20
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "local"
	}
	if c.Broker.Channel == "" {
		c.Broker.Channel = "readify:broadcast"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
