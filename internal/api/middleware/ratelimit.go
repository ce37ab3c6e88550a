// Package middleware provides HTTP middleware components for the daemon's HTTP surface.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxPrincipals              int     = 100
	defaultGlobalRPS           int     = 100
	defaultPrincipalRPS        int     = 50
	defaultUnAuthRPS           int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node
	// deployment) or a distributed store for multi-node deployments.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate
		// limits. principal identifies the authenticated caller, or is
		// empty for unauthenticated requests.
		Allow(principal string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting: global, per-principal
	// (authenticated requests), and unauthenticated. Idle principal
	// limiters are swept periodically to bound memory.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perPrincipal    map[string]*principalLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		principalRPS    int
		principalBurst  int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxPrincipals   int
	}

	// principalLimiter tracks rate limit state for a single principal,
	// including last access time for memory cleanup.
	principalLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a rate limiter with three-tier limits.
// Burst capacity defaults to 2x rate unless overridden in config. A
// cleanup goroutine runs periodically to bound memory growth.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	principalBurst := computeBurstCapacity(config.PrincipalRPS, config.PrincipalBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perPrincipal:    make(map[string]*principalLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		principalRPS:    config.PrincipalRPS,
		principalBurst:  principalBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxPrincipals:   config.MaxPrincipals,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride if set, else 2x rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow implements RateLimiter: checks the global limit first (fail
// fast), then the per-principal or unauthenticated limit.
func (rl *InMemoryRateLimiter) Allow(principal string) bool {
	if !rl.global.Allow() {
		return false
	}

	if principal == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	pl, ok := rl.perPrincipal[principal]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if pl, ok = rl.perPrincipal[principal]; !ok {
			pl = &principalLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.principalRPS), rl.principalBurst),
				lastAccess: time.Now(),
			}

			rl.perPrincipal[principal] = pl

			currentCount := len(rl.perPrincipal)
			threshold := int(float64(rl.maxPrincipals) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max principals limit",
					"current_principals", currentCount,
					"max_principals", rl.maxPrincipals,
					"threshold_percent", thresholdPercentage,
					"recommendation", "investigate principal proliferation or increase max_principals limit")
			}
		}

		rl.mu.Unlock()
	}

	pl.mu.Lock()
	pl.lastAccess = time.Now()
	pl.mu.Unlock()

	return pl.limiter.Allow()
}

// Close stops the cleanup goroutine. Must be called when the
// InMemoryRateLimiter is no longer needed.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes principal limiters idle longer than idleTimeout.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for principal, pl := range rl.perPrincipal {
		pl.mu.Lock()
		lastAccess := pl.lastAccess
		pl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perPrincipal, principal)
		}
	}
}

// RateLimit returns a middleware enforcing rate limits in three tiers:
// global, per-principal (via CallerContext set by Authenticate), and
// unauthenticated. Must sit after Authenticate in the chain to see
// CallerContext. Responds 429 with an RFC 7807 body when exceeded.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := ""
			if callerCtx, ok := GetCallerContext(r.Context()); ok {
				principal = callerCtx.Principal
			}

			if !limiter.Allow(principal) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
