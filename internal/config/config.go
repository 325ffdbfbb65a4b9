// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Generation GenerationConfig
	Fabricator FabricatorConfig
	Geo        GeoConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8000"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, generation can run for minutes)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds every route except /generate (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`

	// CORSAllowedOrigins lists origins allowed to call the API from a browser
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the engine: sqlite or postgres (default: sqlite)
	Driver string `env:"DB_DRIVER" default:"sqlite"`

	// Path is the SQLite database file (default: data/members.db)
	Path string `env:"DB_PATH" default:"data/members.db"`

	// TestPath is the SQLite file used when Testing is set
	TestPath string `env:"DB_TEST_PATH" default:"data/test_members.db"`

	// Testing switches the SQLite file to TestPath
	Testing bool `env:"TESTING" default:"false"`

	// URL is the PostgreSQL connection string (required for postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxOpenConns caps the pool; 0 selects 1 for sqlite and 10 for postgres
	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" default:"0"`
}

// Location returns the SQLite file selected by the Testing flag.
func (c *DatabaseConfig) Location() string {
	if c.Testing {
		return c.TestPath
	}
	return c.Path
}

// GenerationConfig bounds concurrent generation batches.
type GenerationConfig struct {
	// MaxConcurrent is the maximum number of batches running at once (default: 2)
	MaxConcurrent int `env:"GENERATE_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a request waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"GENERATE_MAX_WAIT_TIME" default:"30s"`
}

// FabricatorConfig holds language model settings.
type FabricatorConfig struct {
	// Host is the Ollama server URL (default: http://localhost:11434)
	Host string `env:"OLLAMA_HOST" default:"http://localhost:11434"`

	// Model is the chat model name (default: llama3.1)
	Model string `env:"OLLAMA_MODEL" default:"llama3.1"`

	// Timeout bounds one chat call; 0 waits for the model indefinitely (default: 0)
	Timeout time.Duration `env:"OLLAMA_TIMEOUT" default:"0s"`
}

// GeoConfig holds address lookup settings.
type GeoConfig struct {
	NominatimURL string `env:"NOMINATIM_URL" default:"https://nominatim.openstreetmap.org"`
	OverpassURL  string `env:"OVERPASS_URL" default:"https://overpass-api.de/api/interpreter"`

	// UserAgent identifies this service to the OpenStreetMap APIs, as their usage policy requires
	UserAgent string `env:"GEO_USER_AGENT" default:"membergen/1.0"`

	Timeout time.Duration `env:"GEO_TIMEOUT" default:"30s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// GenerateLimit is requests per minute for the generate endpoint (default: 10)
	GenerateLimit int `env:"RATE_LIMIT_GENERATE" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
