package store

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
)

// PostgresStore is the single implementation of ScannerStore, SyncStore,
// CollectorStore, ReportStore, and AdminStore (§4.5: "single-writer-per-row
// relational store"). Splitting it across multiple narrow interfaces
// follows the teacher's ingestion.Store/correlation.Store separation: each
// component depends only on the slice of the API it needs.
type PostgresStore struct {
	conn     *Connection
	notifier *Notifier
	logger   *slog.Logger
}

var (
	_ ScannerStore   = (*PostgresStore)(nil)
	_ SyncStore      = (*PostgresStore)(nil)
	_ CollectorStore = (*PostgresStore)(nil)
	_ ReportStore    = (*PostgresStore)(nil)
	_ AdminStore     = (*PostgresStore)(nil)
)

// NewPostgresStore wires a connection and notifier into a ready-to-use
// Store. The Notifier is exposed separately so the Query Engine's cache can
// subscribe without importing the concrete store implementation.
func NewPostgresStore(conn *Connection, notifier *Notifier, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{conn: conn, notifier: notifier, logger: logger}
}

// Notifier returns the change-notification hub for cache invalidation.
func (s *PostgresStore) Notifier() *Notifier {
	return s.notifier
}

// Close releases the underlying connection.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// HealthCheck verifies the backing connection is reachable.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), used to distinguish "already exists" races
// from other failures without a prior SELECT (teacher idiom, see
// isDatabaseConnectionError in storage.LineageStore).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if ok := asPQError(err, &pqErr); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func asPQError(err error, target **pq.Error) bool {
	for err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			*target = pqErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
