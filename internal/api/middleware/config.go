// Package middleware provides HTTP middleware components for the daemon's HTTP surface.
package middleware

import (
	"time"

	"github.com/gonogo/rtm/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers: global,
// per-principal (authenticated), and unauthenticated. Burst capacity
// defaults to 2x rate when left at 0.
type Config struct {
	GlobalRPS    int // Default: 100
	PrincipalRPS int // Default: 50
	UnAuthRPS    int // Default: 10

	GlobalBurst    int // Default: 0 (computed as 2 x GlobalRPS)
	PrincipalBurst int // Default: 0 (computed as 2 x PrincipalRPS)
	UnAuthBurst    int // Default: 0 (computed as 2 x UnAuthRPS)

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxPrincipals   int           // Default: 100
}

// LoadConfig loads middleware config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:    config.GetEnvInt("RTM_GLOBAL_RPS", defaultGlobalRPS),
		PrincipalRPS: config.GetEnvInt("RTM_PRINCIPAL_RPS", defaultPrincipalRPS),
		UnAuthRPS:    config.GetEnvInt("RTM_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst:    config.GetEnvInt("RTM_GLOBAL_BURST", 0),
		PrincipalBurst: config.GetEnvInt("RTM_PRINCIPAL_BURST", 0),
		UnAuthBurst:    config.GetEnvInt("RTM_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration("RTM_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RTM_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxPrincipals:   config.GetEnvInt("RTM_RATE_LIMIT_MAX_PRINCIPALS", maxPrincipals),
	}
}
