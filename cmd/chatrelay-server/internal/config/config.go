// Package config provides configuration management for the chatrelay server.
// It loads settings from environment variables (and an optional .env file) with
// sensible defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the chatrelay server.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Relay     RelayConfig     `envconfig:"RELAY"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Identity  IdentityConfig  `envconfig:"IDENTITY"`
	Telemetry TelemetryConfig `envconfig:"TELEMETRY"`
	LogLevel  string          `envconfig:"LOG_LEVEL" default:"info"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `default:"0.0.0.0"`
	Port            int           `default:"8080"`
	AllowedOrigins  []string      `split_words:"true" default:"*"`
	ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `default:"sqlite3"` // mysql, postgres, sqlite3, memory
	Host     string `default:"localhost"`
	Port     int    `default:"3306"`
	User     string `default:"chatrelay"`
	Password string
	Name     string `default:"chatrelay.db"`
	Prefix   string `default:"chatrelay_"` // Table prefix
	Migrate  bool   `default:"true"`
}

// RelayConfig holds Channel Authorizer and Hub configuration.
type RelayConfig struct {
	AppKey         string        `split_words:"true" default:"chatrelay"`
	AppSecret      string        `split_words:"true"`
	GrantTTL       time.Duration `split_words:"true" default:"5m"`
	BufferSize     int           `split_words:"true" default:"64"`
	MaxBodyLength  int           `split_words:"true" default:"4096"`
	PublishTimeout time.Duration `split_words:"true" default:"2s"`
	PingPeriod     time.Duration `split_words:"true" default:"54s"`
	PongWait       time.Duration `split_words:"true" default:"60s"`
}

// RedisConfig enables the multi-node backplane when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int    `default:"0"`
	Prefix   string `default:"chatrelay:"`
}

// IdentityConfig holds the built-in Identity Gate configuration.
type IdentityConfig struct {
	JWTSecret  string        `split_words:"true"`
	TokenTTL   time.Duration `split_words:"true" default:"24h"`
	Users      string        // "id:name:password,..."
	BcryptCost int           `split_words:"true" default:"10"`
}

// TelemetryConfig holds metrics and tracing configuration.
type TelemetryConfig struct {
	Metrics      bool   `default:"true"`
	OTLPEndpoint string `split_words:"true"` // host:port; tracing disabled when empty
	ServiceName  string `split_words:"true" default:"chatrelay"`
}

// Load reads an optional .env file, then the environment.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv loads configuration from environment variables only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD environment variable is required for %s", c.Database.Driver)
		}
	case "sqlite3", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Relay.AppSecret == "" {
		return fmt.Errorf("RELAY_APP_SECRET environment variable is required")
	}
	if c.Identity.JWTSecret == "" {
		return fmt.Errorf("IDENTITY_JWT_SECRET environment variable is required")
	}
	if c.Relay.PingPeriod >= c.Relay.PongWait {
		return fmt.Errorf("RELAY_PING_PERIOD must be shorter than RELAY_PONG_WAIT")
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Name)
	case "sqlite3":
		return c.Name // SQLite uses file path as DSN
	default:
		return ""
	}
}
