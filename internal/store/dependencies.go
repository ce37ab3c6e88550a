package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/gonogo/rtm/internal/rtm"
)

// InsertEpicDependency inserts a new EpicDependency edge, rejecting any
// DependencyKindBlocks edge that would introduce a cycle in the
// blocks-restricted graph (invariant 4, §4.4.2). Other kinds are not
// acyclicity-checked.
func (s *PostgresStore) InsertEpicDependency(ctx context.Context, dep *rtm.EpicDependency) error {
	if err := dep.Validate(); err != nil {
		return fmt.Errorf("store: invalid epic dependency: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin insert epic dependency: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if dep.Kind == rtm.DependencyKindBlocks {
		cyclic, err := wouldCreateCycle(ctx, tx, dep.FromEpicID, dep.ToEpicID)
		if err != nil {
			return err
		}
		if cyclic {
			return ErrCycleDetected
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO epic_dependencies (from_epic_id, to_epic_id, kind, rationale)
		VALUES ($1, $2, $3, $4)
	`, dep.FromEpicID, dep.ToEpicID, string(dep.Kind), dep.Rationale)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: epic dependency %s->%s (%s) already exists", dep.FromEpicID, dep.ToEpicID, dep.Kind)
		}
		return fmt.Errorf("store: insert epic dependency %s->%s: %w", dep.FromEpicID, dep.ToEpicID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit insert epic dependency %s->%s: %w", dep.FromEpicID, dep.ToEpicID, err)
	}

	s.notifier.Publish(TopicEpicDependency, dep.FromEpicID)

	return nil
}

// wouldCreateCycle reports whether adding a blocks edge from->to would
// close a cycle, by checking whether to can already reach from via existing
// blocks edges (a depth-first search over the edge list, §4.4.2).
func wouldCreateCycle(ctx context.Context, tx *sql.Tx, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}

	adjacency := make(map[string][]string)
	rows, err := tx.QueryContext(ctx, `
		SELECT from_epic_id, to_epic_id FROM epic_dependencies WHERE kind = $1
	`, string(rtm.DependencyKindBlocks))
	if err != nil {
		return false, fmt.Errorf("store: load blocks edges: %w", err)
	}
	for rows.Next() {
		var f, t string
		if err := rows.Scan(&f, &t); err != nil {
			rows.Close()
			return false, fmt.Errorf("store: scan blocks edge: %w", err)
		}
		adjacency[f] = append(adjacency[f], t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("store: iterate blocks edges: %w", err)
	}

	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == from {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true

		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}

		return false
	}

	return dfs(to), nil
}

// DeleteEpicDependency removes a single EpicDependency edge.
func (s *PostgresStore) DeleteEpicDependency(ctx context.Context, fromEpicID, toEpicID string, kind rtm.DependencyKind) error {
	_, err := s.conn.ExecContext(ctx, `
		DELETE FROM epic_dependencies WHERE from_epic_id = $1 AND to_epic_id = $2 AND kind = $3
	`, fromEpicID, toEpicID, string(kind))
	if err != nil {
		return fmt.Errorf("store: delete epic dependency %s->%s: %w", fromEpicID, toEpicID, err)
	}

	s.notifier.Publish(TopicEpicDependency, fromEpicID)

	return nil
}

// ListEpicDependencies returns EpicDependency edges filtered by kinds. An
// empty kinds slice returns every edge.
func (s *PostgresStore) ListEpicDependencies(ctx context.Context, kinds []rtm.DependencyKind) ([]rtm.EpicDependency, error) {
	query := `SELECT from_epic_id, to_epic_id, kind, coalesce(rationale, '') FROM epic_dependencies`
	var args []interface{}

	if len(kinds) > 0 {
		strs := make([]string, len(kinds))
		for i, k := range kinds {
			strs[i] = string(k)
		}
		query += " WHERE kind = ANY($1)"
		args = append(args, pq.Array(strs))
	}
	query += " ORDER BY from_epic_id, to_epic_id, kind"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list epic dependencies: %w", err)
	}
	defer rows.Close()

	var out []rtm.EpicDependency
	for rows.Next() {
		var d rtm.EpicDependency
		var kind string
		if err := rows.Scan(&d.FromEpicID, &d.ToEpicID, &kind, &d.Rationale); err != nil {
			return nil, fmt.Errorf("store: scan epic dependency row: %w", err)
		}
		d.Kind = rtm.DependencyKind(kind)
		out = append(out, d)
	}

	return out, rows.Err()
}
