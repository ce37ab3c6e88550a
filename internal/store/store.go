package store

import (
	"context"
	"errors"

	"github.com/gonogo/rtm/internal/rtm"
)

// Sentinel errors surfaced by the transactional API. Callers distinguish
// integrity errors (§7, reject a single write, operation continues) from
// transient/fatal errors using errors.Is.
var (
	// ErrNotFound indicates no row matched the lookup.
	ErrNotFound = errors.New("store: row not found")

	// ErrCycleDetected indicates an EpicDependency insert would create a
	// cycle in the blocks-restricted graph (invariant 4).
	ErrCycleDetected = errors.New("store: dependency insert would create a cycle")

	// ErrStatusRegression indicates an Epic status update would regress
	// the lattice without administrative override (invariant 3).
	ErrStatusRegression = errors.New("store: epic status regression requires administrative override")

	// ErrStaleExecution indicates an execution report's timestamp is not
	// newer than the stored one and was discarded (invariant 6).
	ErrStaleExecution = errors.New("store: execution report is not newer than stored state")

	// ErrDuplicateAutoDefect indicates an open auto-created Defect already
	// exists for this (Test, failure category) pair (invariant 7).
	ErrDuplicateAutoDefect = errors.New("store: open auto-created defect already exists for this test and category")
)

type (
	// ScannerStore is the write interface used by the Source Scanner (C3).
	// The Scanner is the only writer of a Test's association sets and
	// orphan flag (§3.4 Ownership).
	ScannerStore interface {
		// RunScan executes fn inside a single transaction spanning every
		// UpsertTest, MarkSeen, and FinalizeScan call fn makes against tx
		// (§4.1 "either all discoveries commit or none. A crash mid-scan
		// leaves the Store unchanged"; §4.1 "no reader sees a half-scanned
		// tree"). The transaction commits only if fn returns nil; any
		// error fn returns, including one caused by the caller's context
		// being canceled mid-scan, rolls back every write made through tx.
		RunScan(ctx context.Context, fn func(ctx context.Context, tx ScanTx) error) error
	}

	// ScanTx is the per-transaction view of ScannerStore's write
	// operations, obtained from ScannerStore.RunScan. None of its methods
	// opens or commits its own transaction; RunScan owns that for the
	// whole scan.
	ScanTx interface {
		// UpsertTest creates or merges a Test row (§4.1 step 5, invariant
		// 5 coverage recompute). A rescan never subtracts an association
		// already on file (§4.1 tie-breaking rule). Returns created=true
		// for a brand new row, false for a merge into an existing one.
		UpsertTest(ctx context.Context, test *rtm.Test) (created bool, err error)

		// MarkSeen records that testIDs were observed in the current scan
		// of root, so FinalizeScan can tell seen rows from unseen ones.
		MarkSeen(ctx context.Context, root string, testIDs []string) error

		// FinalizeScan marks Test rows under root not seen in this scan as
		// orphaned when their file is absent from existingFiles. Unseen rows
		// whose file still exists are left unchanged: no potentially-removed
		// flag is recorded for them.
		FinalizeScan(ctx context.Context, root string, existingFiles map[string]bool) (orphaned, reactivated int, err error)
	}

	// SyncStore is the write interface used by the Tracker Synchronizer
	// (C4). The Synchronizer is the only writer of mirrored status
	// (§3.4 Ownership).
	SyncStore interface {
		// UpsertUserStoryByTrackerRef resolves or creates the UserStory
		// keyed by trackerRef (§4.2 step 2) within a per-item transaction.
		UpsertUserStoryByTrackerRef(ctx context.Context, story *rtm.UserStory) (created bool, err error)

		// UpsertDefectByTrackerRef resolves or creates the Defect keyed by
		// trackerRef.
		UpsertDefectByTrackerRef(ctx context.Context, defect *rtm.Defect) (created bool, err error)

		// ResolveOrphans re-links UserStories whose parent Epic is epicID
		// and clears their orphan flag (scenario 3).
		ResolveOrphans(ctx context.Context, epicID string) (resolved int, err error)

		// SetDefectTrackerRef records the tracker reference assigned after
		// an auto-created Defect is mirrored out (§4.3 step 2).
		SetDefectTrackerRef(ctx context.Context, defectID, trackerRef string) error

		// GetSinceToken returns the persisted incremental-sync cursor.
		GetSinceToken(ctx context.Context) (string, error)

		// SetSinceToken persists the cursor after all items in a page
		// commit (§4.2 step 3).
		SetSinceToken(ctx context.Context, token string) error
	}

	// CollectorStore is the write interface used by the Execution
	// Collector (C5). The Collector is the only writer of last-execution
	// fields and auto-Defect creation (§3.4 Ownership).
	CollectorStore interface {
		// NextDefectID allocates a fresh DEF-NNNNN id for an auto-created
		// Defect (§4.3 step 2).
		NextDefectID(ctx context.Context) (string, error)

		// EnsurePendingTest creates a minimal, uncovered Test row if testID
		// is not yet known to the Store (§4.3 edge case).
		EnsurePendingTest(ctx context.Context, testID string) error

		// FlushExecutions applies a bounded chunk of executions under
		// per-row locking, enforcing monotonicity (invariant 6, §5
		// "per-row lock"). Returns the subset actually applied (newer than
		// the stored state).
		FlushExecutions(ctx context.Context, updates map[string]rtm.Execution) (applied []string, err error)

		// RecentOutcomes returns the last n recorded outcomes for testID,
		// most recent first, for auto-Defect escalation (§4.3 step 1).
		RecentOutcomes(ctx context.Context, testID string, n int) ([]rtm.Execution, error)

		// HasOpenAutoDefect reports whether an open auto-created Defect
		// already exists for (testID, category) (invariant 7).
		HasOpenAutoDefect(ctx context.Context, testID, category string) (bool, error)

		// CreateAutoDefect creates a new auto-created Defect, failing with
		// ErrDuplicateAutoDefect if one is already open for the same
		// (Test, category) pair.
		CreateAutoDefect(ctx context.Context, defect *rtm.Defect) error
	}

	// ReportStore is the read-only interface used by the Query & Report
	// Engine (C6), intentionally separate from the write-side interfaces
	// above to follow the Interface Segregation Principle — the Query
	// Engine never writes (§3.4, §7 "The Query Engine never writes").
	ReportStore interface {
		GetEpic(ctx context.Context, id string) (*rtm.Epic, error)
		ListEpics(ctx context.Context, includeArchived bool) ([]rtm.Epic, error)
		GetUserStory(ctx context.Context, id string) (*rtm.UserStory, error)
		ListUserStories(ctx context.Context, filter UserStoryFilter) ([]rtm.UserStory, error)
		ListTestsForUserStory(ctx context.Context, userStoryID string) ([]rtm.Test, error)
		ListDefectsForUserStory(ctx context.Context, userStoryID string) ([]rtm.Defect, error)
		ListEpicDependencies(ctx context.Context, kinds []rtm.DependencyKind) ([]rtm.EpicDependency, error)
		ListAllTests(ctx context.Context) ([]rtm.Test, error)
		ListAllDefects(ctx context.Context) ([]rtm.Defect, error)
	}

	// AdminStore covers administrative operations that fall outside any
	// single ingestion component: Capability/Epic authoring, explicit
	// EpicDependency edges, and status-regression overrides.
	AdminStore interface {
		CreateCapability(ctx context.Context, cap *rtm.Capability) error
		CreateEpic(ctx context.Context, epic *rtm.Epic) error
		SetEpicStatus(ctx context.Context, epicID string, status rtm.EpicStatus, allowRegression bool) error
		InsertEpicDependency(ctx context.Context, dep *rtm.EpicDependency) error
		DeleteEpicDependency(ctx context.Context, fromEpicID, toEpicID string, kind rtm.DependencyKind) error
	}

	// UserStoryFilter narrows ListUserStories by the matrix's optional
	// filters (§4.4.1): Epic, Capability, component tag, status, priority.
	// Zero values mean "no filter" on that axis.
	UserStoryFilter struct {
		EpicID       string
		CapabilityID string
		Status       rtm.UserStoryStatus
	}
)
