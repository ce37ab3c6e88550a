// Package middleware provides HTTP middleware components for the daemon's HTTP surface.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const testPrincipal = "rtmctl"

func TestRateLimiter_GlobalLimitEnforced(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    10,
		GlobalBurst:  10,
		PrincipalRPS: 50,
		UnAuthRPS:    2,
	})
	defer rl.Close()

	successCount := 0

	for i := 0; i < 11; i++ {
		if rl.Allow(testPrincipal) {
			successCount++
		}
	}

	if successCount != 10 {
		t.Errorf("expected 10 successful requests, got %d", successCount)
	}
}

func TestRateLimiter_PrincipalLimitEnforced(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:      100,
		PrincipalRPS:   5,
		PrincipalBurst: 5,
		UnAuthRPS:      2,
	})
	defer rl.Close()

	successCount := 0

	for i := 0; i < 6; i++ {
		if rl.Allow(testPrincipal) {
			successCount++
		}
	}

	if successCount != 5 {
		t.Errorf("expected 5 successful requests, got %d", successCount)
	}
}

func TestRateLimiter_UnauthenticatedLimitEnforced(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    100,
		PrincipalRPS: 50,
		UnAuthRPS:    2,
		UnAuthBurst:  2,
	})
	defer rl.Close()

	successCount := 0

	for i := 0; i < 3; i++ {
		if rl.Allow("") {
			successCount++
		}
	}

	if successCount != 2 {
		t.Errorf("expected 2 successful requests, got %d", successCount)
	}
}

func TestRateLimiter_BurstCapacityWorks(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:      10,
		GlobalBurst:    10,
		PrincipalRPS:   5,
		PrincipalBurst: 5,
		UnAuthRPS:      2,
	})
	defer rl.Close()

	successCount := 0

	for i := 0; i < 10; i++ {
		if rl.Allow(testPrincipal) {
			successCount++
		}
	}

	if successCount != 5 {
		t.Errorf("expected 5 successful burst requests, got %d", successCount)
	}

	if rl.Allow(testPrincipal) {
		t.Error("expected request to be rate limited after burst exhausted")
	}
}

func TestRateLimiter_PrincipalIsolation(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:      100,
		PrincipalRPS:   5,
		PrincipalBurst: 5,
		UnAuthRPS:      2,
	})
	defer rl.Close()

	principal1 := "rtmctl"
	principal2 := "tracker-webhook"

	for i := 0; i < 5; i++ {
		if !rl.Allow(principal1) {
			t.Errorf("%s request %d should succeed", principal1, i+1)
		}
	}

	if rl.Allow(principal1) {
		t.Errorf("%s should be rate limited", principal1)
	}

	for i := 0; i < 5; i++ {
		if !rl.Allow(principal2) {
			t.Errorf("%s request %d should succeed", principal2, i+1)
		}
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    100,
		PrincipalRPS: 50,
		UnAuthRPS:    10,
	})
	defer rl.Close()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(principal string) {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				_ = rl.Allow(principal)
			}
		}(fmt.Sprintf("principal-%d", i))
	}

	wg.Wait()
}

func TestRateLimiter_MemoryCleanup(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    100,
		PrincipalRPS: 50,
		UnAuthRPS:    10,
		IdleTimeout:  100 * time.Millisecond,
	})
	defer rl.Close()

	principal := "stale-principal"
	if !rl.Allow(principal) {
		t.Fatal("first request should succeed")
	}

	rl.mu.RLock()
	_, exists := rl.perPrincipal[principal]
	rl.mu.RUnlock()

	if !exists {
		t.Fatal("principal limiter should exist after first request")
	}

	time.Sleep(150 * time.Millisecond)
	rl.cleanup()

	rl.mu.RLock()
	_, exists = rl.perPrincipal[principal]
	rl.mu.RUnlock()

	if exists {
		t.Error("stale principal limiter should have been removed after cleanup")
	}
}

func TestRateLimiter_CleanupPreservesActivePrincipals(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    100,
		PrincipalRPS: 50,
		UnAuthRPS:    10,
		IdleTimeout:  100 * time.Millisecond,
	})
	defer rl.Close()

	stale := "stale-principal"
	active := "active-principal"

	if !rl.Allow(stale) {
		t.Fatal("stale principal first request should succeed")
	}

	if !rl.Allow(active) {
		t.Fatal("active principal first request should succeed")
	}

	time.Sleep(150 * time.Millisecond)

	if !rl.Allow(active) {
		t.Fatal("active principal should still be allowed")
	}

	rl.cleanup()

	rl.mu.RLock()
	_, staleExists := rl.perPrincipal[stale]
	_, activeExists := rl.perPrincipal[active]
	rl.mu.RUnlock()

	if staleExists {
		t.Error("stale principal should have been removed")
	}

	if !activeExists {
		t.Error("active principal should have been preserved")
	}
}

func TestRateLimitMiddleware_RequestAllowed(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    100,
		PrincipalRPS: 50,
		UnAuthRPS:    10,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("expected next handler to be called when rate limit not exceeded")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_RequestBlocked(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:    1,
		GlobalBurst:  1,
		PrincipalRPS: 1,
		UnAuthRPS:    1,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("first request should succeed, got status %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec2 := httptest.NewRecorder()
	nextCalled = false

	handler.ServeHTTP(rec2, req2)

	if nextCalled {
		t.Error("expected next handler NOT to be called when rate limit exceeded")
	}

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec2.Code)
	}
}

func TestRateLimitMiddleware_RFC7807ErrorFormat(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   1,
		GlobalBurst: 1,
		UnAuthRPS:   1,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/matrix", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	contentType := rec2.Header().Get("Content-Type")
	if contentType != "application/problem+json" {
		t.Errorf("expected Content-Type application/problem+json, got %s", contentType)
	}

	var problem map[string]interface{}
	if err := json.Unmarshal(rec2.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}

	if problem["type"] != "https://gonogo.dev/problems/429" {
		t.Errorf("expected type https://gonogo.dev/problems/429, got %v", problem["type"])
	}

	if problem["title"] != "Too Many Requests" {
		t.Errorf("expected title 'Too Many Requests', got %v", problem["title"])
	}

	if problem["status"] != float64(429) {
		t.Errorf("expected status 429, got %v", problem["status"])
	}

	if problem["instance"] != "/api/v1/matrix" {
		t.Errorf("expected instance /api/v1/matrix, got %v", problem["instance"])
	}
}

func TestRateLimitMiddleware_AuthenticatedVsUnauthenticated(t *testing.T) {
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:      100,
		PrincipalRPS:   10,
		PrincipalBurst: 10,
		UnAuthRPS:      2,
		UnAuthBurst:    2,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("unauthenticated request %d should succeed, got status %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd unauthenticated request should be rate limited, got status %d", rec.Code)
	}

	callerCtx := CallerContext{Principal: testPrincipal}

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		ctx := SetCallerContext(req.Context(), callerCtx)
		req = req.WithContext(ctx)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("authenticated request %d should succeed, got status %d", i+1, rec.Code)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := SetCallerContext(req.Context(), callerCtx)
	req = req.WithContext(ctx)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("11th authenticated request should be rate limited, got status %d", rec.Code)
	}
}
