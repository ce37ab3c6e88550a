// Package api provides the HTTP surface of the daemon: route registration,
// request/response mapping onto the engine packages, and RFC 7807 error
// responses.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gonogo/rtm/internal/api/middleware"
	rtmconfig "github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/store"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8420
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultMaxRequestSize caps decoded JSON request bodies (1 MiB).
	DefaultMaxRequestSize = 1 << 20
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration for rtmd.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int
	MaxRequestSize     int64
	APIKeyStore        store.APIKeyStore
	RateLimiter        middleware.RateLimiter
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Port:               rtmconfig.GetEnvInt("RTM_PORT", DefaultPort),
		Host:               rtmconfig.GetEnvStr("RTM_HOST", DefaultHost),
		ReadTimeout:        rtmconfig.GetEnvDuration("RTM_READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:       rtmconfig.GetEnvDuration("RTM_WRITE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout:    rtmconfig.GetEnvDuration("RTM_SHUTDOWN_TIMEOUT", DefaultTimeout),
		LogLevel:           rtmconfig.GetEnvLogLevel("RTM_LOG_LEVEL", slog.LevelInfo),
		CORSAllowedOrigins: []string{"*"}, // Development default - should be restricted in production
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Correlation-ID", "X-Api-Key"},
		CORSMaxAge:         DefaultCORSMaxAge,
		MaxRequestSize:     rtmconfig.GetEnvInt64("RTM_MAX_REQUEST_SIZE", DefaultMaxRequestSize),
	}

	if origins := rtmconfig.GetEnvStr("RTM_CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSAllowedOrigins = rtmconfig.ParseCommaSeparatedList(origins)
	}

	if methods := rtmconfig.GetEnvStr("RTM_CORS_ALLOWED_METHODS", ""); methods != "" {
		cfg.CORSAllowedMethods = rtmconfig.ParseCommaSeparatedList(methods)
	}

	if headers := rtmconfig.GetEnvStr("RTM_CORS_ALLOWED_HEADERS", ""); headers != "" {
		cfg.CORSAllowedHeaders = rtmconfig.ParseCommaSeparatedList(headers)
	}

	cfg.CORSMaxAge = rtmconfig.GetEnvInt("RTM_CORS_MAX_AGE", DefaultCORSMaxAge)

	return cfg
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts ServerConfig CORS fields to middleware.CORSConfig.
func (c ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// CORSConfig holds CORS configuration options, satisfying middleware.CORSConfig.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
