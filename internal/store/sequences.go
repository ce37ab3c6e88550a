package store

import (
	"context"
	"fmt"

	"github.com/gonogo/rtm/internal/rtm"
)

// NextDefectID allocates a fresh DEF-NNNNN id for an auto-created Defect
// (§4.3 step 2, CollectorStore). Tracker-mirrored UserStory/Defect ids are
// allocated inline inside the upsert transaction instead (user_stories.go,
// defects.go), since that allocation must commit atomically with the row.
func (s *PostgresStore) NextDefectID(ctx context.Context) (string, error) {
	var seq int64
	if err := s.conn.QueryRowContext(ctx, `SELECT nextval('defect_id_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("store: allocate defect id: %w", err)
	}
	return rtm.FormatDefectID(seq), nil
}
