// Package middleware provides HTTP middleware components for the daemon's HTTP surface.
package middleware

import (
	"context"
	"time"
)

// callerContextKey is the context key for authenticated caller information.
type callerContextKey struct{}

// CallerContext identifies the authenticated caller of a request — the
// rtmctl CLI, a tracker webhook, or an operator script — enriched into the
// request context by Authenticate after a successful API key check.
type CallerContext struct {
	// Principal is the caller's identity (e.g. "rtmctl", "tracker-webhook").
	Principal string

	// Permissions are the authorization scopes granted to this key.
	Permissions []string

	// KeyID is the API key ID used for authentication (for audit logging).
	KeyID string

	// AuthTime is when authentication occurred (for latency tracking).
	AuthTime time.Time
}

// GetCallerContext extracts caller context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
func GetCallerContext(ctx context.Context) (CallerContext, bool) {
	callerCtx, ok := ctx.Value(callerContextKey{}).(CallerContext)

	return callerCtx, ok
}

// SetCallerContext adds caller context to the request context.
func SetCallerContext(ctx context.Context, callerCtx CallerContext) context.Context {
	return context.WithValue(ctx, callerContextKey{}, callerCtx)
}
