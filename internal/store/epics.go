package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gonogo/rtm/internal/rtm"
)

// CreateEpic authors a new Epic row (§3.4: Epics are authored locally).
func (s *PostgresStore) CreateEpic(ctx context.Context, epic *rtm.Epic) error {
	if err := epic.Validate(); err != nil {
		return fmt.Errorf("store: invalid epic: %w", err)
	}

	var plannedCompletion interface{}
	if !epic.PlannedCompletionDate.IsZero() {
		plannedCompletion = epic.PlannedCompletionDate
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO epics (id, title, status, capability_id, tracker_ref, archived,
			value_estimate, cost_estimate, adoption_metric, planned_completion_date, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, now(), now())
	`, epic.ID, epic.Title, string(epic.Status), epic.CapabilityID, epic.TrackerRef, epic.Archived,
		epic.ValueEstimate, epic.CostEstimate, epic.AdoptionMetric, plannedCompletion)
	if err != nil {
		return fmt.Errorf("store: create epic %s: %w", epic.ID, err)
	}

	s.notifier.Publish(TopicEpic, epic.ID)

	return nil
}

// GetEpic fetches a single Epic by id.
func (s *PostgresStore) GetEpic(ctx context.Context, id string) (*rtm.Epic, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, title, status, coalesce(capability_id, ''), coalesce(tracker_ref, ''), archived,
			value_estimate, cost_estimate, adoption_metric, planned_completion_date, created_at, updated_at
		FROM epics WHERE id = $1
	`, id)

	epic, err := scanEpic(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get epic %s: %w", id, err)
	}

	return epic, nil
}

// ListEpics returns Epic rows, optionally including archived ones.
func (s *PostgresStore) ListEpics(ctx context.Context, includeArchived bool) ([]rtm.Epic, error) {
	query := `
		SELECT id, title, status, coalesce(capability_id, ''), coalesce(tracker_ref, ''), archived,
			value_estimate, cost_estimate, adoption_metric, planned_completion_date, created_at, updated_at
		FROM epics
	`
	if !includeArchived {
		query += " WHERE NOT archived"
	}
	query += " ORDER BY id"

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list epics: %w", err)
	}
	defer rows.Close()

	var out []rtm.Epic
	for rows.Next() {
		epic, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan epic row: %w", err)
		}
		out = append(out, *epic)
	}

	return out, rows.Err()
}

// SetEpicStatus transitions an Epic's status, enforcing monotonicity
// (invariant 3) unless allowRegression is set.
func (s *PostgresStore) SetEpicStatus(ctx context.Context, epicID string, status rtm.EpicStatus, allowRegression bool) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin set epic status: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM epics WHERE id = $1 FOR UPDATE`, epicID).Scan(&currentStatus)
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: lock epic %s: %w", epicID, err)
	}

	epic := rtm.Epic{Status: rtm.EpicStatus(currentStatus)}
	if _, err := epic.TransitionStatus(status, allowRegression); err != nil {
		return fmt.Errorf("%w: %v", ErrStatusRegression, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE epics SET status = $1, updated_at = now() WHERE id = $2`, string(status), epicID)
	if err != nil {
		return fmt.Errorf("store: update epic status %s: %w", epicID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit set epic status %s: %w", epicID, err)
	}

	s.notifier.Publish(TopicEpic, epicID)

	return nil
}

func scanEpic(row interface {
	Scan(dest ...interface{}) error
}) (*rtm.Epic, error) {
	var e rtm.Epic
	var status string
	var plannedCompletion sql.NullTime

	err := row.Scan(&e.ID, &e.Title, &status, &e.CapabilityID, &e.TrackerRef, &e.Archived,
		&e.ValueEstimate, &e.CostEstimate, &e.AdoptionMetric, &plannedCompletion, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Status = rtm.EpicStatus(status)
	if plannedCompletion.Valid {
		e.PlannedCompletionDate = plannedCompletion.Time
	}

	return &e, nil
}

// CreateCapability authors a new Capability row.
func (s *PostgresStore) CreateCapability(ctx context.Context, cap *rtm.Capability) error {
	if err := cap.Validate(); err != nil {
		return fmt.Errorf("store: invalid capability: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO capabilities (id, name, description) VALUES ($1, $2, $3)
	`, cap.ID, cap.Name, cap.Description)
	if err != nil {
		return fmt.Errorf("store: create capability %s: %w", cap.ID, err)
	}

	return nil
}
