package store

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// API key format constants. Keys look like "rtm_ak_" + 64 hex chars (32
// random bytes), mirroring the teacher's "correlator_ak_" scheme.
const (
	apiKeyPrefix    = "rtm_ak_"
	randomBytesSize = 32
	apiKeyLength    = len(apiKeyPrefix) + randomBytesSize*2
	keyPrefixLen    = len(apiKeyPrefix) + 4 // show "rtm_ak_1234"
	keySuffixLen    = 4
)

var (
	// ErrKeyAlreadyExists is returned when adding a key that already exists.
	ErrKeyAlreadyExists = errors.New("store: api key already exists")
	// ErrKeyNotFound is returned when operating on a non-existent key.
	ErrKeyNotFound = errors.New("store: api key not found")
	// ErrKeyNil is returned when a nil API key is supplied.
	ErrKeyNil = errors.New("store: api key cannot be nil") // pragma: allowlist secret
	// ErrPrincipalEmpty is returned when generating a key with no principal.
	ErrPrincipalEmpty = errors.New("store: principal cannot be empty")
	// ErrKeyStringEmpty is returned when parsing an empty key string.
	ErrKeyStringEmpty = errors.New("store: key string cannot be empty")
	// ErrInvalidKeyFormat is returned when a key doesn't carry the expected prefix.
	ErrInvalidKeyFormat = errors.New("store: invalid api key format")
	// ErrInvalidKeyLength is returned when a key's length is wrong.
	ErrInvalidKeyLength = errors.New("store: invalid api key length")
)

type (
	// APIKey authenticates one caller of the daemon's HTTP surface: the
	// rtmctl CLI, a tracker webhook, or an operator script (§6 External
	// Interfaces — "CLI-to-daemon auth"). Principal names the caller the
	// way the teacher's APIKey.PluginID names a plugin; there is no
	// multi-tenant plugin concept in this engine, so one field covers it.
	APIKey struct {
		ID          string
		Key         string // pragma: allowlist secret
		Principal   string
		Permissions []string
		CreatedAt   time.Time
		ExpiresAt   *time.Time
		Active      bool
	}

	// APIKeyStore stores and retrieves APIKeys. Kept in the store package
	// (rather than internal/api) so internal/api/middleware can depend on
	// it without importing internal/api and creating an import cycle —
	// the same reason the teacher keeps APIKeyStore in internal/storage
	// rather than internal/api.
	APIKeyStore interface {
		FindByKey(ctx context.Context, key string) (*APIKey, bool)
		Add(ctx context.Context, apiKey *APIKey) error
		Update(ctx context.Context, apiKey *APIKey) error
		Delete(ctx context.Context, keyID string) error
		ListByPrincipal(ctx context.Context, principal string) ([]*APIKey, error)
		HealthCheck(ctx context.Context) error
	}
)

// GenerateAPIKey creates a new secure API key for principal.
func GenerateAPIKey(principal string) (string, error) {
	if principal == "" {
		return "", ErrPrincipalEmpty
	}

	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("store: generate api key: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates an API key from a raw header value,
// stripping an optional "Bearer " prefix.
func ParseAPIKey(raw string) (string, error) {
	if raw == "" {
		return "", ErrKeyStringEmpty
	}

	raw = strings.TrimPrefix(raw, "Bearer ")

	if !strings.HasPrefix(raw, apiKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(raw) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return raw, nil
}

// SecureCompare performs a constant-time comparison of two strings to
// prevent timing attacks on key lookups. Used by FindByKey in place of a
// map lookup, which would let a caller distinguish "no key this length
// exists" from "a key this length exists but didn't match" by timing.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for secure logging, showing only the prefix and
// last few characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)
	if keyLen == apiKeyLength {
		maskedLen := keyLen - keyPrefixLen - keySuffixLen

		return key[:keyPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-keySuffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// InMemoryAPIKeyStore is a thread-safe in-memory APIKeyStore, the daemon's
// default when no persistent key store is configured — keys are loaded at
// startup from EngineConfig/environment rather than a database table,
// since this engine has no multi-tenant plugin registry to persist (§9).
type InMemoryAPIKeyStore struct {
	mu              sync.RWMutex
	keys            map[string]*APIKey
	keysByID        map[string]*APIKey
	keysByPrincipal map[string][]*APIKey
}

// NewInMemoryAPIKeyStore creates an empty in-memory key store.
func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{
		keys:            make(map[string]*APIKey),
		keysByID:        make(map[string]*APIKey),
		keysByPrincipal: make(map[string][]*APIKey),
	}
}

// FindByKey retrieves an API key by its key value. It walks every stored key
// and compares each with SecureCompare, returning the first match, so a miss
// is compared against all stored keys.
func (s *InMemoryAPIKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, apiKey := range s.keys {
		if SecureCompare(apiKey.Key, key) {
			keyCopy := *apiKey

			return &keyCopy, true
		}
	}

	return nil, false
}

// Add stores a new API key.
func (s *InMemoryAPIKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}
	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey
	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByPrincipal[keyCopy.Principal] = append(s.keysByPrincipal[keyCopy.Principal], &keyCopy)

	return nil
}

// Update modifies an existing API key.
func (s *InMemoryAPIKeyStore) Update(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.keysByID[apiKey.ID]
	if !exists {
		return ErrKeyNotFound
	}

	s.removeFromPrincipalMap(existing.Principal, existing.ID)
	if existing.Key != apiKey.Key {
		delete(s.keys, existing.Key)
	}

	keyCopy := *apiKey
	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByPrincipal[keyCopy.Principal] = append(s.keysByPrincipal[keyCopy.Principal], &keyCopy)

	return nil
}

// Delete removes an API key.
func (s *InMemoryAPIKeyStore) Delete(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	delete(s.keys, existing.Key)
	delete(s.keysByID, keyID)
	s.removeFromPrincipalMap(existing.Principal, keyID)

	return nil
}

// ListByPrincipal returns all API keys belonging to principal.
func (s *InMemoryAPIKeyStore) ListByPrincipal(_ context.Context, principal string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.keysByPrincipal[principal]
	result := make([]*APIKey, len(keys))
	for i, k := range keys {
		keyCopy := *k
		result[i] = &keyCopy
	}

	return result, nil
}

// HealthCheck always succeeds: an in-memory store has no external
// dependency to be unhealthy.
func (s *InMemoryAPIKeyStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *InMemoryAPIKeyStore) removeFromPrincipalMap(principal, keyID string) {
	keys := s.keysByPrincipal[principal]
	for i, k := range keys {
		if k.ID == keyID {
			s.keysByPrincipal[principal] = append(keys[:i], keys[i+1:]...)

			break
		}
	}

	if len(s.keysByPrincipal[principal]) == 0 {
		delete(s.keysByPrincipal, principal)
	}
}
