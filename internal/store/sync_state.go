package store

import (
	"context"
	"fmt"
)

// syncStateSingletonID is the fixed primary key of the sync_state table's
// single row. The Tracker Synchronizer is a single-writer component (§5):
// one row is sufficient, no per-tracker sharding is needed at this scale.
const syncStateSingletonID = 1

// GetSinceToken returns the persisted incremental-sync cursor, or "" if no
// sync has completed yet.
func (s *PostgresStore) GetSinceToken(ctx context.Context) (string, error) {
	var token string

	err := s.conn.QueryRowContext(ctx, `
		SELECT since_token FROM sync_state WHERE id = $1
	`, syncStateSingletonID).Scan(&token)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get since token: %w", err)
	}

	return token, nil
}

// SetSinceToken persists the cursor after all items in a page commit (§4.2
// step 3: the cursor only advances once the whole page is durable).
func (s *PostgresStore) SetSinceToken(ctx context.Context, token string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_state (id, since_token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET since_token = EXCLUDED.since_token, updated_at = now()
	`, syncStateSingletonID, token)
	if err != nil {
		return fmt.Errorf("store: set since token: %w", err)
	}

	return nil
}
