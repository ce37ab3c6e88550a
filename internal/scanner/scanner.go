package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gonogo/rtm/internal/store"
)

// testFileSuffix is the file-name convention the Scanner treats as a
// candidate source for annotated test functions.
const testFileSuffix = "_test.go"

// Config tunes a Scanner's file selection and parallelism. Zero value is
// usable: Concurrency falls back to 4.
type Config struct {
	// ExcludeDirs lists directory base names skipped entirely during the
	// walk (e.g. "vendor", "_examples", ".git").
	ExcludeDirs []string

	// Concurrency bounds the worker pool that parses candidate files
	// (§5: "file parsing is CPU-bound and may be parallelized across
	// files using a bounded worker pool"). Defaults to 4 when <= 0.
	Concurrency int
}

func (c Config) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return 4
}

func (c Config) excludes() map[string]bool {
	out := map[string]bool{".git": true}
	for _, d := range c.ExcludeDirs {
		out[d] = true
	}
	return out
}

// Scanner implements the Source Scanner component (C3, §4.1): it walks a
// source tree, parses candidate test files, and reconciles discovered Test
// rows against the Store in a single pass.
type Scanner struct {
	store  store.ScannerStore
	logger *slog.Logger
	cfg    Config
}

// New constructs a Scanner. A nil logger falls back to slog.Default.
func New(s store.ScannerStore, logger *slog.Logger, cfg Config) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{store: s, logger: logger, cfg: cfg}
}

// Scan walks root, parses every candidate test file, reconciles the
// discovered Tests against the Store, and reports what changed (§4.1
// "scan(root_path) → ScanReport"). A single file's parse failure never fails
// the whole scan; it is recorded in ScanReport.AnnotationErrors instead. An
// unrecognized annotation value is skipped without failing the scan and does
// not appear in the ScanReport. Every Store write the scan makes ---
// each discovered Test's UpsertTest, MarkSeen, and the closing FinalizeScan
// --- runs inside the single transaction opened by store.ScannerStore.RunScan
// (§4.1 "either all discoveries commit or none. A crash mid-scan leaves the
// Store unchanged"; §4.1 "no reader sees a half-scanned tree"): if anything
// after this point returns an error, RunScan rolls back every write this
// call made, leaving the Store exactly as it was before Scan ran.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanReport, error) {
	candidates, err := s.enumerate(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: enumerate %s: %w", root, err)
	}

	discovered, annErrs := s.parseAll(ctx, candidates)

	report := &ScanReport{
		Discovered:       len(discovered),
		AnnotationErrors: annErrs,
	}

	existingFiles := make(map[string]bool, len(candidates))
	for _, path := range candidates {
		existingFiles[path] = true
	}

	err = s.store.RunScan(ctx, func(ctx context.Context, tx store.ScanTx) error {
		testIDs := make([]string, 0, len(discovered))
		for _, d := range discovered {
			created, err := tx.UpsertTest(ctx, &d.Test)
			if err != nil {
				report.AnnotationErrors = append(report.AnnotationErrors, AnnotationError{
					Path:    strings.SplitN(d.ID, "::", 2)[0],
					Message: err.Error(),
				})
				continue
			}
			if created {
				report.Created++
			} else {
				report.Updated++
			}
			testIDs = append(testIDs, d.ID)
		}

		if err := tx.MarkSeen(ctx, root, testIDs); err != nil {
			return fmt.Errorf("scanner: mark seen under %s: %w", root, err)
		}

		orphaned, reactivated, err := tx.FinalizeScan(ctx, root, existingFiles)
		if err != nil {
			return fmt.Errorf("scanner: finalize scan of %s: %w", root, err)
		}
		report.Orphaned = orphaned
		report.Reactivated = reactivated

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: scan %s: %w", root, err)
	}

	s.logger.Info("scan complete",
		slog.String("root", root),
		slog.Int("discovered", report.Discovered),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("orphaned", report.Orphaned),
		slog.Int("reactivated", report.Reactivated),
		slog.Int("annotation_errors", len(report.AnnotationErrors)),
	)

	return report, nil
}

// enumerate walks root and returns every candidate test file path, skipping
// excluded directories.
func (s *Scanner) enumerate(root string) ([]string, error) {
	excludes := s.cfg.excludes()

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excludes[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), testFileSuffix) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// parseAll parses every candidate file across a bounded worker pool. Store
// writes happen serially afterward in Scan; only parsing is parallelized
// (§5).
func (s *Scanner) parseAll(ctx context.Context, paths []string) ([]discoveredTest, []AnnotationError) {
	type result struct {
		tests []discoveredTest
		err   *AnnotationError
	}

	results := make([]result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.concurrency())

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			tests, err := parseFile(path)
			if err != nil {
				results[i] = result{err: &AnnotationError{Path: path, Message: err.Error()}}
				return nil
			}
			results[i] = result{tests: tests}
			return nil
		})
	}

	// Only context cancellation propagates as a group error; per-file parse
	// failures are captured per-result above and never abort the scan.
	_ = g.Wait()

	var discovered []discoveredTest
	var annErrs []AnnotationError
	for _, r := range results {
		if r.err != nil {
			annErrs = append(annErrs, *r.err)
			continue
		}
		discovered = append(discovered, r.tests...)
	}

	return discovered, annErrs
}
