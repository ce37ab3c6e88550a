// Package collector implements the Execution Collector (C5): a test-runner
// plugin that buffers live test outcomes, flushes them to the Store in
// bounded chunks, and escalates recurring failures into auto-created
// Defects (§4.3).
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

const defaultFlushChunkSize = 200

// FailureInfo carries a failing outcome's classified category and raw
// message, as handed to on_test_outcome by the runner.
type FailureInfo struct {
	Category string
	Message  string
}

// DefectMirrorer pushes an auto-created Defect out to the external tracker.
// Satisfied by *tracker.Synchronizer; the Collector depends on this one
// method rather than the whole Synchronizer (Interface Segregation).
type DefectMirrorer interface {
	MirrorDefect(ctx context.Context, defect rtm.Defect)
}

// RunReport summarizes one on_run_complete flush.
type RunReport struct {
	Discovered     int
	Buffered       int
	Applied        int
	Skipped        int // discarded by execution monotonicity (invariant 6)
	DefectsCreated []string
}

// Collector buffers outcomes for a single test-runner worker (§4.3
// "Parallel test workers: each worker buffers independently").
type Collector struct {
	store  store.CollectorStore
	mirror DefectMirrorer
	cfg    config.EngineConfig
	logger *slog.Logger

	journal        *journal
	flushChunkSize int
	now            func() time.Time

	mu            sync.Mutex
	discovered    int
	buffer        map[string]rtm.Execution
	failedThisRun map[string]struct{}
}

// New opens (or creates) the write-ahead journal at journalPath, replays and
// flushes any outcomes left over from a prior crash, and returns a ready
// Collector. mirror may be nil if tracker mirroring is not configured.
func New(ctx context.Context, st store.CollectorStore, mirror DefectMirrorer, cfg config.EngineConfig, logger *slog.Logger, journalPath string) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	j, err := openJournal(journalPath)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		store:          st,
		mirror:         mirror,
		cfg:            cfg,
		logger:         logger,
		journal:        j,
		flushChunkSize: defaultFlushChunkSize,
		now:            time.Now,
		buffer:         map[string]rtm.Execution{},
		failedThisRun:  map[string]struct{}{},
	}

	recovered, err := j.replay()
	if err != nil {
		return nil, err
	}

	if len(recovered) > 0 {
		logger.Warn("recovering buffered outcomes from write-ahead journal",
			slog.String("journal", journalPath), slog.Int("count", len(recovered)))

		if _, err := c.flushMap(ctx, recovered); err != nil {
			return nil, fmt.Errorf("collector: recover journal %s: %w", journalPath, err)
		}
		if err := j.truncate(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close releases the journal file handle.
func (c *Collector) Close() error {
	return c.journal.close()
}

// OnTestDiscovered records that a test ran this session, creating a minimal
// pending Test row if the Source Scanner has not seen it yet (§4.3 edge
// case).
func (c *Collector) OnTestDiscovered(ctx context.Context, testID string) error {
	if err := c.store.EnsurePendingTest(ctx, testID); err != nil {
		return err
	}

	c.mu.Lock()
	c.discovered++
	c.mu.Unlock()

	return nil
}

// OnTestOutcome buffers an outcome and appends it to the write-ahead
// journal before returning, so a crash immediately after this call does not
// lose it (§4.3 "Buffering and durability").
func (c *Collector) OnTestOutcome(testID string, status rtm.ExecutionStatus, durationMs int, failure *FailureInfo) error {
	exec := rtm.Execution{
		Status:     status,
		DurationMs: durationMs,
		Timestamp:  c.now(),
	}
	if failure != nil {
		exec.FailureCategory = failure.Category
		exec.FailureDigest = Digest(failure.Message)
	}

	if err := c.journal.append(testID, exec); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.buffer[testID]; !ok || exec.Timestamp.After(existing.Timestamp) {
		c.buffer[testID] = exec
	}
	if status.IsFailure() {
		c.failedThisRun[testID] = struct{}{}
	}

	return nil
}

// OnRunComplete flushes buffered outcomes to the Store in bounded chunks,
// truncates the journal once they have landed, and runs auto-Defect
// escalation over every test that failed this run (§4.3 steps 1-3).
func (c *Collector) OnRunComplete(ctx context.Context) (*RunReport, error) {
	c.mu.Lock()
	buffered := c.buffer
	failed := c.failedThisRun
	report := &RunReport{Discovered: c.discovered, Buffered: len(buffered)}
	c.buffer = map[string]rtm.Execution{}
	c.failedThisRun = map[string]struct{}{}
	c.discovered = 0
	c.mu.Unlock()

	applied, err := c.flushMap(ctx, buffered)
	if err != nil {
		return report, err
	}
	report.Applied = len(applied)
	report.Skipped = len(buffered) - len(applied)

	if err := c.journal.truncate(); err != nil {
		return report, err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		appliedSet[id] = struct{}{}
	}

	for testID := range failed {
		if _, ok := appliedSet[testID]; !ok {
			continue
		}

		defectID, err := c.escalate(ctx, testID, buffered[testID])
		if err != nil {
			c.logger.Error("auto-defect escalation failed",
				slog.String("test_id", testID), slog.String("error", err.Error()))
			continue
		}
		if defectID != "" {
			report.DefectsCreated = append(report.DefectsCreated, defectID)
		}
	}

	return report, nil
}

// flushMap applies updates to the Store in bounded chunks (§4.3 "bounded
// chunk size"), mirroring the teacher's per-transaction-not-one-giant-batch
// flush pattern. Iteration order is sorted so chunking is deterministic,
// which keeps tests reproducible.
func (c *Collector) flushMap(ctx context.Context, updates map[string]rtm.Execution) ([]string, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunkSize := c.flushChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultFlushChunkSize
	}

	var applied []string
	for i := 0; i < len(ids); i += chunkSize {
		end := i + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		chunk := make(map[string]rtm.Execution, end-i)
		for _, id := range ids[i:end] {
			chunk[id] = updates[id]
		}

		a, err := c.store.FlushExecutions(ctx, chunk)
		if err != nil {
			return applied, fmt.Errorf("collector: flush chunk: %w", err)
		}
		applied = append(applied, a...)
	}

	return applied, nil
}

// escalate implements §4.3's auto-Defect escalation algorithm for a single
// failed test, returning the new Defect's ID if one was created.
func (c *Collector) escalate(ctx context.Context, testID string, exec rtm.Execution) (string, error) {
	if !exec.Status.IsFailure() || exec.FailureCategory == "" {
		return "", nil
	}

	n := c.cfg.RecurrenceN
	if n <= 0 {
		n = 3
	}
	k := c.cfg.RecurrenceK
	if k <= 0 {
		k = 3
	}

	recent, err := c.store.RecentOutcomes(ctx, testID, n)
	if err != nil {
		return "", fmt.Errorf("recent outcomes for %s: %w", testID, err)
	}

	matches := 0
	for _, r := range recent {
		if r.Status.IsFailure() && r.FailureCategory == exec.FailureCategory && r.FailureDigest == exec.FailureDigest {
			matches++
		}
	}
	if matches < k {
		return "", nil
	}

	open, err := c.store.HasOpenAutoDefect(ctx, testID, exec.FailureCategory)
	if err != nil {
		return "", fmt.Errorf("check open auto-defect for %s: %w", testID, err)
	}
	if open {
		return "", nil
	}

	id, err := c.store.NextDefectID(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate auto-defect id: %w", err)
	}

	defect := rtm.Defect{
		ID:              id,
		Title:           fmt.Sprintf("Recurring %s failure in %s", exec.FailureCategory, testID),
		Severity:        c.cfg.MapFailureSeverity(exec.FailureCategory),
		Status:          rtm.DefectStatusOpen,
		SourceTestID:    testID,
		AutoCreated:     true,
		FailureCategory: exec.FailureCategory,
		FailureDigest:   exec.FailureDigest,
	}

	if err := c.store.CreateAutoDefect(ctx, &defect); err != nil {
		if errors.Is(err, store.ErrDuplicateAutoDefect) {
			return "", nil
		}
		return "", fmt.Errorf("create auto-defect for %s: %w", testID, err)
	}

	if c.mirror != nil {
		go c.mirror.MirrorDefect(context.WithoutCancel(ctx), defect)
	}

	return defect.ID, nil
}
