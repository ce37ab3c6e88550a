package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/rtm"
)

// executionRetention bounds how many rows of execution history are kept per
// Test in test_executions (§4.5); pruned on every FlushExecutions commit.
var executionRetention = config.DefaultEngineConfig().ExecutionRetention

// scanTx is the concrete ScanTx handed to the Source Scanner's RunScan
// callback: every method runs against the same *sql.Tx, so RunScan's single
// Commit is the only point at which any of a scan's writes become visible
// (§4.1 "either all discoveries commit or none").
type scanTx struct {
	tx      *sql.Tx
	touched []string // test IDs to publish after commit
	roots   []string // scan roots to publish after commit
}

// UpsertTest creates or merges a Test row (§4.1 step 5, invariant 5 coverage
// recompute). A rescan never subtracts an association already on file (§4.1
// tie-breaking rule).
func (s *scanTx) UpsertTest(ctx context.Context, test *rtm.Test) (created bool, err error) {
	if err := test.Validate(); err != nil {
		return false, fmt.Errorf("store: invalid test %s: %w", test.ID, err)
	}

	tx := s.tx

	var existing rtm.Test
	var existingType, existingPriority string
	row := tx.QueryRowContext(ctx, `
		SELECT type, coalesce(priority, ''), components, user_story_ids, epic_ids, regression_defect_ids
		FROM tests WHERE id = $1 FOR UPDATE
	`, test.ID)
	err = row.Scan(&existingType, &existingPriority, pq.Array(&existing.Components),
		pq.Array(&existing.UserStoryIDs), pq.Array(&existing.EpicIDs), pq.Array(&existing.RegressionDefectIDs))

	switch {
	case isNoRows(err):
		derived, derr := deriveEpicIDs(ctx, tx, test.UserStoryIDs)
		if derr != nil {
			return false, derr
		}
		test.RecomputeCoverage(derived)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tests (id, type, priority, components, user_story_ids, epic_ids, regression_defect_ids,
				bdd_scenario_ref, orphaned, uncovered, seen_in_scan, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, false, $9, true, now(), now())
		`, test.ID, string(test.Type), string(test.Priority), pq.Array(test.Components),
			pq.Array(test.UserStoryIDs), pq.Array(test.EpicIDs), pq.Array(test.RegressionDefectIDs),
			test.BDDScenarioRef, test.Uncovered)
		if err != nil {
			return false, fmt.Errorf("store: insert test %s: %w", test.ID, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("store: lookup test %s: %w", test.ID, err)
	default:
		test.MergeAssociations(existing.UserStoryIDs, existing.EpicIDs, existing.RegressionDefectIDs, existing.Components)

		derived, derr := deriveEpicIDs(ctx, tx, test.UserStoryIDs)
		if derr != nil {
			return false, derr
		}
		test.RecomputeCoverage(derived)

		_, err = tx.ExecContext(ctx, `
			UPDATE tests
			SET type = $1, priority = NULLIF($2, ''), components = $3, user_story_ids = $4, epic_ids = $5,
				regression_defect_ids = $6, bdd_scenario_ref = $7, orphaned = false, uncovered = $8,
				seen_in_scan = true, updated_at = now()
			WHERE id = $9
		`, string(test.Type), string(test.Priority), pq.Array(test.Components), pq.Array(test.UserStoryIDs),
			pq.Array(test.EpicIDs), pq.Array(test.RegressionDefectIDs), test.BDDScenarioRef, test.Uncovered, test.ID)
		if err != nil {
			return false, fmt.Errorf("store: update test %s: %w", test.ID, err)
		}
	}

	s.touched = append(s.touched, test.ID)

	return created, nil
}

// deriveEpicIDs returns the union of parent Epics for userStoryIDs, used to
// recompute a Test's Uncovered flag (invariant 5).
func deriveEpicIDs(ctx context.Context, tx *sql.Tx, userStoryIDs []string) ([]string, error) {
	if len(userStoryIDs) == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT epic_id FROM user_stories WHERE id = ANY($1) AND epic_id IS NOT NULL
	`, pq.Array(userStoryIDs))
	if err != nil {
		return nil, fmt.Errorf("store: derive epic ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var epicID string
		if err := rows.Scan(&epicID); err != nil {
			return nil, fmt.Errorf("store: scan derived epic id: %w", err)
		}
		out = append(out, epicID)
	}

	return out, rows.Err()
}

// MarkSeen records that testIDs were observed in the current scan of root.
func (s *scanTx) MarkSeen(ctx context.Context, root string, testIDs []string) error {
	if len(testIDs) == 0 {
		return nil
	}

	_, err := s.tx.ExecContext(ctx, `
		UPDATE tests SET seen_in_scan = true, updated_at = now()
		WHERE id LIKE $1 || '%' AND id = ANY($2)
	`, root, pq.Array(testIDs))
	if err != nil {
		return fmt.Errorf("store: mark seen under %s: %w", root, err)
	}

	return nil
}

// FinalizeScan marks Test rows under root not seen in this scan as orphaned
// when their source file is gone, reactivates previously-orphaned rows that
// were seen again, and resets the seen flag for the next scan. This is the
// last step of a scan's single transaction; RunScan commits once every step,
// including this one, has succeeded (§4.1 "atomic at the transaction
// level").
func (s *scanTx) FinalizeScan(ctx context.Context, root string, existingFiles map[string]bool) (orphaned, reactivated int, err error) {
	tx := s.tx

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tests WHERE id LIKE $1 || '%' AND NOT seen_in_scan FOR UPDATE
	`, root)
	if err != nil {
		return 0, 0, fmt.Errorf("store: select unseen tests under %s: %w", root, err)
	}

	var toOrphan []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("store: scan unseen test row: %w", err)
		}
		if !existingFiles[filePathFromTestID(id)] {
			toOrphan = append(toOrphan, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("store: iterate unseen tests under %s: %w", root, err)
	}

	if len(toOrphan) > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE tests SET orphaned = true, updated_at = now() WHERE id = ANY($1)
		`, pq.Array(toOrphan))
		if err != nil {
			return 0, 0, fmt.Errorf("store: orphan tests under %s: %w", root, err)
		}
		orphaned = len(toOrphan)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tests SET orphaned = false, updated_at = now()
		WHERE id LIKE $1 || '%' AND seen_in_scan AND orphaned
	`, root)
	if err != nil {
		return 0, 0, fmt.Errorf("store: reactivate tests under %s: %w", root, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("store: rows affected reactivating tests under %s: %w", root, err)
	}
	reactivated = int(n)

	_, err = tx.ExecContext(ctx, `UPDATE tests SET seen_in_scan = false WHERE id LIKE $1 || '%'`, root)
	if err != nil {
		return 0, 0, fmt.Errorf("store: reset seen flags under %s: %w", root, err)
	}

	s.roots = append(s.roots, root)

	return orphaned, reactivated, nil
}

// RunScan executes fn inside a single transaction spanning every write it
// makes through tx (§4.1 "either all discoveries commit or none. A crash
// mid-scan leaves the Store unchanged"). Change notifications for touched
// tests and scan roots are published only after that one commit succeeds,
// so no subscriber ever observes a partially-applied scan either.
func (s *PostgresStore) RunScan(ctx context.Context, fn func(ctx context.Context, tx ScanTx) error) error {
	dbTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin scan transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	sTx := &scanTx{tx: dbTx}

	if err := fn(ctx, sTx); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("store: commit scan transaction: %w", err)
	}

	for _, id := range sTx.touched {
		s.notifier.Publish(TopicTest, id)
	}
	for _, root := range sTx.roots {
		s.notifier.Publish(TopicTest, root)
	}

	return nil
}

// filePathFromTestID splits a Test ID of the form "path::symbol" and
// returns the path component (§4.1 step 4: identity is path + symbol).
func filePathFromTestID(id string) string {
	if i := strings.Index(id, "::"); i >= 0 {
		return id[:i]
	}
	return id
}

// EnsurePendingTest creates a minimal, uncovered Test row if testID is not
// yet known to the Store (§4.3 edge case: execution arrives before scan).
func (s *PostgresStore) EnsurePendingTest(ctx context.Context, testID string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO tests (id, uncovered, orphaned, seen_in_scan, created_at, updated_at)
		VALUES ($1, true, false, false, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, testID)
	if err != nil {
		return fmt.Errorf("store: ensure pending test %s: %w", testID, err)
	}

	return nil
}

// FlushExecutions applies a bounded chunk of executions under per-row
// locking, enforcing monotonicity (invariant 6, §5 "per-row lock"). Applied
// executions are appended to test_executions and the history is pruned to
// executionRetention rows per test.
func (s *PostgresStore) FlushExecutions(ctx context.Context, updates map[string]rtm.Execution) (applied []string, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin flush executions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for testID, exec := range updates {
		var status, failCategory, failDigest sql.NullString
		var durationMs sql.NullInt64
		var ts sql.NullTime

		err = tx.QueryRowContext(ctx, `
			SELECT last_execution_status, last_execution_duration_ms, last_execution_timestamp,
				last_execution_failure_category, last_execution_failure_digest
			FROM tests WHERE id = $1 FOR UPDATE
		`, testID).Scan(&status, &durationMs, &ts, &failCategory, &failDigest)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: lock test %s for execution: %w", testID, err)
		}

		current := rtm.Test{}
		if status.Valid {
			current.LastExecution = &rtm.Execution{
				Status:          rtm.ExecutionStatus(status.String),
				DurationMs:      int(durationMs.Int64),
				Timestamp:       ts.Time,
				FailureCategory: failCategory.String,
				FailureDigest:   failDigest.String,
			}
		}

		if !current.ApplyExecution(exec) {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tests
			SET last_execution_status = $1, last_execution_duration_ms = $2, last_execution_timestamp = $3,
				last_execution_failure_category = $4, last_execution_failure_digest = $5, updated_at = now()
			WHERE id = $6
		`, string(exec.Status), exec.DurationMs, exec.Timestamp, exec.FailureCategory, exec.FailureDigest, testID)
		if err != nil {
			return nil, fmt.Errorf("store: apply execution to test %s: %w", testID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO test_executions (test_id, status, duration_ms, timestamp, failure_category, failure_digest)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, testID, string(exec.Status), exec.DurationMs, exec.Timestamp, exec.FailureCategory, exec.FailureDigest)
		if err != nil {
			return nil, fmt.Errorf("store: record execution history for test %s: %w", testID, err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM test_executions
			WHERE test_id = $1 AND id NOT IN (
				SELECT id FROM test_executions WHERE test_id = $1 ORDER BY timestamp DESC LIMIT $2
			)
		`, testID, executionRetention)
		if err != nil {
			return nil, fmt.Errorf("store: prune execution history for test %s: %w", testID, err)
		}

		applied = append(applied, testID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit flush executions: %w", err)
	}

	for _, id := range applied {
		s.notifier.Publish(TopicTest, id)
	}

	return applied, nil
}

// RecentOutcomes returns the last n recorded outcomes for testID, most
// recent first, for auto-Defect escalation (§4.3 step 1).
func (s *PostgresStore) RecentOutcomes(ctx context.Context, testID string, n int) ([]rtm.Execution, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT status, duration_ms, timestamp, coalesce(failure_category, ''), coalesce(failure_digest, '')
		FROM test_executions WHERE test_id = $1 ORDER BY timestamp DESC LIMIT $2
	`, testID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent outcomes for test %s: %w", testID, err)
	}
	defer rows.Close()

	var out []rtm.Execution
	for rows.Next() {
		var e rtm.Execution
		var status string
		if err := rows.Scan(&status, &e.DurationMs, &e.Timestamp, &e.FailureCategory, &e.FailureDigest); err != nil {
			return nil, fmt.Errorf("store: scan execution row for test %s: %w", testID, err)
		}
		e.Status = rtm.ExecutionStatus(status)
		out = append(out, e)
	}

	return out, rows.Err()
}

// ListTestsForUserStory returns Tests whose UserStoryIDs includes
// userStoryID.
func (s *PostgresStore) ListTestsForUserStory(ctx context.Context, userStoryID string) ([]rtm.Test, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, type, coalesce(priority, ''), components, user_story_ids, epic_ids, regression_defect_ids,
			coalesce(bdd_scenario_ref, ''), orphaned, uncovered, created_at, updated_at
		FROM tests WHERE $1 = ANY(user_story_ids) ORDER BY id
	`, userStoryID)
	if err != nil {
		return nil, fmt.Errorf("store: list tests for user story %s: %w", userStoryID, err)
	}
	defer rows.Close()

	return scanTests(rows)
}

// ListAllTests returns every Test row.
func (s *PostgresStore) ListAllTests(ctx context.Context) ([]rtm.Test, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, type, coalesce(priority, ''), components, user_story_ids, epic_ids, regression_defect_ids,
			coalesce(bdd_scenario_ref, ''), orphaned, uncovered, created_at, updated_at
		FROM tests ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list all tests: %w", err)
	}
	defer rows.Close()

	return scanTests(rows)
}

func scanTests(rows *sql.Rows) ([]rtm.Test, error) {
	var out []rtm.Test
	for rows.Next() {
		var t rtm.Test
		var testType, priority string

		err := rows.Scan(&t.ID, &testType, &priority, pq.Array(&t.Components), pq.Array(&t.UserStoryIDs),
			pq.Array(&t.EpicIDs), pq.Array(&t.RegressionDefectIDs), &t.BDDScenarioRef, &t.Orphaned, &t.Uncovered,
			&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan test row: %w", err)
		}

		t.Type = rtm.TestType(testType)
		t.Priority = rtm.TestPriority(priority)
		out = append(out, t)
	}

	return out, rows.Err()
}
