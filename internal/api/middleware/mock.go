// Package middleware provides HTTP middleware components for the daemon's HTTP surface.
package middleware

import (
	"context"

	"github.com/gonogo/rtm/internal/store"
)

// MockAPIKeyStore is a mock implementation of store.APIKeyStore for testing.
type MockAPIKeyStore struct {
	FindByKeyFunc        func(ctx context.Context, key string) (*store.APIKey, bool)
	AddFunc              func(ctx context.Context, apiKey *store.APIKey) error
	UpdateFunc           func(ctx context.Context, apiKey *store.APIKey) error
	DeleteFunc           func(ctx context.Context, keyID string) error
	ListByPrincipalFunc  func(ctx context.Context, principal string) ([]*store.APIKey, error)
	HealthCheckFunc      func(ctx context.Context) error
}

// FindByKey implements store.APIKeyStore.FindByKey.
func (m *MockAPIKeyStore) FindByKey(ctx context.Context, key string) (*store.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements store.APIKeyStore.Add.
func (m *MockAPIKeyStore) Add(ctx context.Context, apiKey *store.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Update implements store.APIKeyStore.Update.
func (m *MockAPIKeyStore) Update(ctx context.Context, apiKey *store.APIKey) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, apiKey)
	}

	return nil
}

// Delete implements store.APIKeyStore.Delete.
func (m *MockAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByPrincipal implements store.APIKeyStore.ListByPrincipal.
func (m *MockAPIKeyStore) ListByPrincipal(ctx context.Context, principal string) ([]*store.APIKey, error) {
	if m.ListByPrincipalFunc != nil {
		return m.ListByPrincipalFunc(ctx, principal)
	}

	return []*store.APIKey{}, nil
}

// HealthCheck implements store.APIKeyStore.HealthCheck.
func (m *MockAPIKeyStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}
