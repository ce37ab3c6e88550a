package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/gonogo/rtm/internal/rtm"
)

// UpsertDefectByTrackerRef resolves or creates the Defect keyed by
// TrackerRef (§4.2, mapping contract). Used only for tracker-mirrored
// defects; auto-created defects go through CreateAutoDefect instead.
func (s *PostgresStore) UpsertDefectByTrackerRef(ctx context.Context, defect *rtm.Defect) (created bool, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin upsert defect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM defects WHERE tracker_ref = $1`, defect.TrackerRef).Scan(&existingID)

	switch {
	case isNoRows(err):
		if defect.ID == "" {
			var seq int64
			if err := tx.QueryRowContext(ctx, `SELECT nextval('defect_id_seq')`).Scan(&seq); err != nil {
				return false, fmt.Errorf("store: allocate defect id for tracker ref %s: %w", defect.TrackerRef, err)
			}
			defect.ID = rtm.FormatDefectID(seq)
		}
		// Status/Severity "" means the Synchronizer saw an unrecognized
		// tracker status label (§4.2); fall back to initial values for a
		// brand new row since there is nothing on file to preserve.
		if defect.Status == "" {
			defect.Status = rtm.DefectStatusOpen
		}
		if defect.Severity == "" {
			defect.Severity = rtm.DefectSeverityMedium
		}

		if err := defect.Validate(); err != nil {
			return false, fmt.Errorf("store: invalid defect %s: %w", defect.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO defects (id, title, severity, status, tracker_ref, user_story_id, source_test_id, auto_created, failure_category, failure_digest, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, now(), now())
		`, defect.ID, defect.Title, string(defect.Severity), string(defect.Status), defect.TrackerRef,
			defect.UserStoryID, defect.SourceTestID, defect.AutoCreated, defect.FailureCategory, defect.FailureDigest)
		if err != nil {
			return false, fmt.Errorf("store: insert defect %s: %w", defect.ID, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("store: lookup defect by tracker ref %s: %w", defect.TrackerRef, err)
	default:
		defect.ID = existingID
		_, err = tx.ExecContext(ctx, `
			UPDATE defects
			SET title = $1, severity = COALESCE(NULLIF($2, ''), severity), status = COALESCE(NULLIF($3, ''), status),
				user_story_id = NULLIF($4, ''), updated_at = now()
			WHERE id = $5
		`, defect.Title, string(defect.Severity), string(defect.Status), defect.UserStoryID, existingID)
		if err != nil {
			return false, fmt.Errorf("store: update defect %s: %w", existingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit upsert defect %s: %w", defect.ID, err)
	}

	s.notifier.Publish(TopicDefect, defect.ID)

	return created, nil
}

// SetDefectTrackerRef records the tracker reference assigned after an
// auto-created Defect is mirrored out (§4.3 step 2).
func (s *PostgresStore) SetDefectTrackerRef(ctx context.Context, defectID, trackerRef string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE defects SET tracker_ref = $1, updated_at = now() WHERE id = $2
	`, trackerRef, defectID)
	if err != nil {
		return fmt.Errorf("store: set tracker ref for defect %s: %w", defectID, err)
	}

	s.notifier.Publish(TopicDefect, defectID)

	return nil
}

// HasOpenAutoDefect reports whether an open auto-created Defect already
// exists for (testID, category) (invariant 7).
func (s *PostgresStore) HasOpenAutoDefect(ctx context.Context, testID, category string) (bool, error) {
	var exists bool

	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM defects
			WHERE source_test_id = $1 AND failure_category = $2 AND auto_created
			AND status NOT IN ('resolved', 'wontfix')
		)
	`, testID, category).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check open auto defect for test %s/%s: %w", testID, category, err)
	}

	return exists, nil
}

// CreateAutoDefect creates a new auto-created Defect. The (source_test_id,
// failure_category) partial unique index over open auto-created defects
// (invariant 7) is the race-safe guard; HasOpenAutoDefect is only a
// fast-path check ahead of the insert. If defect.UserStoryID is empty, it is
// filled in from the source Test's first associated UserStory (§4.3 step 2
// "link to the Test and its primary UserStory") — the Collector has no read
// access to that association itself (CollectorStore exposes no Test lookup).
func (s *PostgresStore) CreateAutoDefect(ctx context.Context, defect *rtm.Defect) error {
	if defect.UserStoryID == "" && defect.SourceTestID != "" {
		var userStoryIDs []string
		err := s.conn.QueryRowContext(ctx, `
			SELECT user_story_ids FROM tests WHERE id = $1
		`, defect.SourceTestID).Scan(pq.Array(&userStoryIDs))
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("store: look up primary user story for test %s: %w", defect.SourceTestID, err)
		}
		if len(userStoryIDs) > 0 {
			defect.UserStoryID = userStoryIDs[0]
		}
	}

	if err := defect.Validate(); err != nil {
		return fmt.Errorf("store: invalid auto defect %s: %w", defect.ID, err)
	}

	open, err := s.HasOpenAutoDefect(ctx, defect.SourceTestID, defect.FailureCategory)
	if err != nil {
		return err
	}
	if open {
		return ErrDuplicateAutoDefect
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO defects (id, title, severity, status, tracker_ref, user_story_id, source_test_id, auto_created, failure_category, failure_digest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, true, $8, $9, now(), now())
	`, defect.ID, defect.Title, string(defect.Severity), string(defect.Status), defect.TrackerRef,
		defect.UserStoryID, defect.SourceTestID, defect.FailureCategory, defect.FailureDigest)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAutoDefect
		}
		return fmt.Errorf("store: create auto defect %s: %w", defect.ID, err)
	}

	s.notifier.Publish(TopicDefect, defect.ID)

	return nil
}

// ListDefectsForUserStory returns Defects whose UserStoryID is userStoryID.
func (s *PostgresStore) ListDefectsForUserStory(ctx context.Context, userStoryID string) ([]rtm.Defect, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, severity, status, coalesce(tracker_ref, ''), coalesce(user_story_id, ''),
			coalesce(source_test_id, ''), auto_created, coalesce(failure_category, ''), coalesce(failure_digest, ''),
			created_at, updated_at
		FROM defects WHERE user_story_id = $1 ORDER BY id
	`, userStoryID)
	if err != nil {
		return nil, fmt.Errorf("store: list defects for user story %s: %w", userStoryID, err)
	}
	defer rows.Close()

	return scanDefects(rows)
}

// ListAllDefects returns every Defect row.
func (s *PostgresStore) ListAllDefects(ctx context.Context) ([]rtm.Defect, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, title, severity, status, coalesce(tracker_ref, ''), coalesce(user_story_id, ''),
			coalesce(source_test_id, ''), auto_created, coalesce(failure_category, ''), coalesce(failure_digest, ''),
			created_at, updated_at
		FROM defects ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list all defects: %w", err)
	}
	defer rows.Close()

	return scanDefects(rows)
}

func scanDefects(rows *sql.Rows) ([]rtm.Defect, error) {
	var out []rtm.Defect
	for rows.Next() {
		var d rtm.Defect
		var severity, status string

		err := rows.Scan(&d.ID, &d.Title, &severity, &status, &d.TrackerRef, &d.UserStoryID,
			&d.SourceTestID, &d.AutoCreated, &d.FailureCategory, &d.FailureDigest, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan defect row: %w", err)
		}

		d.Severity = rtm.DefectSeverity(severity)
		d.Status = rtm.DefectStatus(status)
		out = append(out, d)
	}

	return out, rows.Err()
}
