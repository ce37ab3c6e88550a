package store

import (
	"context"
	"fmt"

	"github.com/gonogo/rtm/internal/rtm"
)

// UpsertUserStoryByTrackerRef resolves or creates the UserStory keyed by
// TrackerRef (§4.2 step 2, mapping contract). If the parent Epic does not
// exist yet, the row is stored as orphan (invariant 2).
func (s *PostgresStore) UpsertUserStoryByTrackerRef(ctx context.Context, story *rtm.UserStory) (created bool, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin upsert user story: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	wantEpicID := story.EpicID
	if wantEpicID == "" {
		wantEpicID = story.PendingEpicID
	}

	if wantEpicID != "" {
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM epics WHERE id = $1 AND NOT archived)`, wantEpicID).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("store: check parent epic %s: %w", wantEpicID, err)
		}
		if exists {
			story.EpicID = wantEpicID
			story.PendingEpicID = ""
			story.Orphan = false
		} else {
			story.EpicID = ""
			story.PendingEpicID = wantEpicID
			story.Orphan = true
		}
	} else {
		story.Orphan = true
	}

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM user_stories WHERE tracker_ref = $1`, story.TrackerRef).Scan(&existingID)

	switch {
	case isNoRows(err):
		if story.ID == "" {
			var seq int64
			if err := tx.QueryRowContext(ctx, `SELECT nextval('user_story_id_seq')`).Scan(&seq); err != nil {
				return false, fmt.Errorf("store: allocate user story id for tracker ref %s: %w", story.TrackerRef, err)
			}
			story.ID = rtm.FormatUserStoryID(seq)
		}
		// Status "" means the Synchronizer saw an unrecognized tracker
		// status label (§4.2: "unknown labels leave status unchanged").
		// There is nothing on file yet for a brand new row, so fall back
		// to the initial status instead of failing validation.
		if story.Status == "" {
			story.Status = rtm.UserStoryStatusPlanned
		}

		if err := story.Validate(); err != nil {
			return false, fmt.Errorf("store: invalid user story %s: %w", story.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_stories (id, title, story_points, status, tracker_ref, epic_id, pending_epic_id, orphan, assignee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, now(), now())
		`, story.ID, story.Title, story.StoryPoints, string(story.Status), story.TrackerRef, story.EpicID, story.PendingEpicID, story.Orphan, story.Assignee)
		if err != nil {
			return false, fmt.Errorf("store: insert user story %s: %w", story.ID, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("store: lookup user story by tracker ref %s: %w", story.TrackerRef, err)
	default:
		story.ID = existingID
		_, err = tx.ExecContext(ctx, `
			UPDATE user_stories
			SET title = $1, story_points = $2, status = COALESCE(NULLIF($3, ''), status),
				epic_id = NULLIF($4, ''), pending_epic_id = NULLIF($5, ''), orphan = $6,
				assignee = COALESCE(NULLIF($7, ''), assignee), updated_at = now()
			WHERE id = $8
		`, story.Title, story.StoryPoints, string(story.Status), story.EpicID, story.PendingEpicID, story.Orphan, story.Assignee, existingID)
		if err != nil {
			return false, fmt.Errorf("store: update user story %s: %w", existingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit upsert user story %s: %w", story.ID, err)
	}

	s.notifier.Publish(TopicUserStory, story.ID)
	if story.EpicID != "" {
		s.notifier.Publish(TopicEpic, story.EpicID)
	}

	return created, nil
}

// ResolveOrphans re-links UserStories whose PendingEpicID is epicID and
// clears their orphan flag (scenario 3, invariant 2). Stories orphaned
// waiting on a different parent are left untouched.
func (s *PostgresStore) ResolveOrphans(ctx context.Context, epicID string) (resolved int, err error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE user_stories
		SET epic_id = $1, pending_epic_id = NULL, orphan = false, updated_at = now()
		WHERE orphan AND pending_epic_id = $1
	`, epicID)
	if err != nil {
		return 0, fmt.Errorf("store: resolve orphans for epic %s: %w", epicID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected resolving orphans for epic %s: %w", epicID, err)
	}

	if n > 0 {
		s.notifier.Publish(TopicEpic, epicID)
	}

	return int(n), nil
}

// GetUserStory fetches a single UserStory by id.
func (s *PostgresStore) GetUserStory(ctx context.Context, id string) (*rtm.UserStory, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, title, story_points, status, tracker_ref, coalesce(epic_id, ''), coalesce(pending_epic_id, ''), orphan, assignee, created_at, updated_at
		FROM user_stories WHERE id = $1
	`, id)

	story, err := scanUserStory(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user story %s: %w", id, err)
	}

	return story, nil
}

// ListUserStories returns UserStory rows matching filter (§4.4.1 matrix
// filters). An empty filter returns every row.
func (s *PostgresStore) ListUserStories(ctx context.Context, filter UserStoryFilter) ([]rtm.UserStory, error) {
	query := `
		SELECT us.id, us.title, us.story_points, us.status, us.tracker_ref, coalesce(us.epic_id, ''), coalesce(us.pending_epic_id, ''), us.orphan, us.assignee, us.created_at, us.updated_at
		FROM user_stories us
	`
	var joins []string
	var where []string
	var args []interface{}
	argN := 0

	next := func(v interface{}) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}

	if filter.CapabilityID != "" {
		joins = append(joins, "JOIN epics e ON e.id = us.epic_id")
		where = append(where, "e.capability_id = "+next(filter.CapabilityID))
	}
	if filter.EpicID != "" {
		where = append(where, "us.epic_id = "+next(filter.EpicID))
	}
	if filter.Status != "" {
		where = append(where, "us.status = "+next(string(filter.Status)))
	}

	for _, j := range joins {
		query += " " + j
	}
	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}
	query += " ORDER BY us.id"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list user stories: %w", err)
	}
	defer rows.Close()

	var out []rtm.UserStory
	for rows.Next() {
		story, err := scanUserStory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user story row: %w", err)
		}
		out = append(out, *story)
	}

	return out, rows.Err()
}

func scanUserStory(row interface {
	Scan(dest ...interface{}) error
}) (*rtm.UserStory, error) {
	var u rtm.UserStory
	var status string

	err := row.Scan(&u.ID, &u.Title, &u.StoryPoints, &status, &u.TrackerRef, &u.EpicID, &u.PendingEpicID, &u.Orphan, &u.Assignee, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Status = rtm.UserStoryStatus(status)

	return &u, nil
}
