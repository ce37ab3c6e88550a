package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// fakeScannerStore is a minimal in-memory stand-in for store.ScannerStore,
// sufficient to exercise Scan's orchestration without a database. RunScan
// stages every write against a copy of the committed state and only folds
// it back in if fn returns nil, the same all-or-nothing contract a real
// transaction gives PostgresStore.RunScan.
type fakeScannerStore struct {
	tests map[string]rtm.Test
	seen  map[string][]string

	finalizeOrphaned    int
	finalizeReactivated int
	finalizeErr         error
}

func newFakeScannerStore() *fakeScannerStore {
	return &fakeScannerStore{tests: map[string]rtm.Test{}, seen: map[string][]string{}}
}

// fakeScanTx is the staged, uncommitted view of a fakeScannerStore handed to
// a RunScan callback.
type fakeScanTx struct {
	tests map[string]rtm.Test
	seen  map[string][]string

	finalizeOrphaned    int
	finalizeReactivated int
	finalizeErr         error
}

func (f *fakeScanTx) UpsertTest(ctx context.Context, test *rtm.Test) (bool, error) {
	_, existed := f.tests[test.ID]
	f.tests[test.ID] = *test
	return !existed, nil
}

func (f *fakeScanTx) MarkSeen(ctx context.Context, root string, testIDs []string) error {
	f.seen[root] = testIDs
	return nil
}

func (f *fakeScanTx) FinalizeScan(ctx context.Context, root string, existingFiles map[string]bool) (int, int, error) {
	return f.finalizeOrphaned, f.finalizeReactivated, f.finalizeErr
}

func (f *fakeScannerStore) RunScan(ctx context.Context, fn func(context.Context, store.ScanTx) error) error {
	staged := &fakeScanTx{
		tests:               make(map[string]rtm.Test, len(f.tests)),
		seen:                make(map[string][]string, len(f.seen)),
		finalizeOrphaned:    f.finalizeOrphaned,
		finalizeReactivated: f.finalizeReactivated,
		finalizeErr:         f.finalizeErr,
	}
	for id, test := range f.tests {
		staged.tests[id] = test
	}
	for root, ids := range f.seen {
		staged.seen[root] = ids
	}

	if err := fn(ctx, staged); err != nil {
		return err
	}

	f.tests = staged.tests
	f.seen = staged.seen

	return nil
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanner_Scan_DiscoversAnnotatedTests(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "checkout_test.go", `package checkout

// TestCheckout_AppliesDiscount verifies the discount path.
//
// user_story(US-00001, US-00002)
// epic(EP-00010)
// component(checkout)
// priority(critical)
// test_category(integration)
func TestCheckout_AppliesDiscount(t *testing.T) {}
`)
	writeTestFile(t, root, "plain.go", `package checkout

func Helper() {}
`)

	fake := newFakeScannerStore()
	s := New(fake, nil, Config{})

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Empty(t, report.AnnotationErrors)
	assert.True(t, report.OK())

	id := filepath.Join(root, "checkout_test.go") + "::TestCheckout_AppliesDiscount"
	got, ok := fake.tests[id]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"US-00001", "US-00002"}, got.UserStoryIDs)
	assert.ElementsMatch(t, []string{"EP-00010"}, got.EpicIDs)
	assert.ElementsMatch(t, []string{"checkout"}, got.Components)
	assert.Equal(t, rtm.TestPriorityCritical, got.Priority)
	assert.Equal(t, rtm.TestTypeIntegration, got.Type)

	assert.ElementsMatch(t, []string{id}, fake.seen[root])
}

func TestScanner_Scan_SkipsExcludedDirsAndUnmatchedFuncs(t *testing.T) {
	root := t.TempDir()
	vendorDir := filepath.Join(root, "vendor")
	require.NoError(t, os.Mkdir(vendorDir, 0o755))
	writeTestFile(t, vendorDir, "ignored_test.go", `package vendor

func TestShouldBeSkipped(t *testing.T) {}
`)
	writeTestFile(t, root, "helpers_test.go", `package pkg

func helperNotATest(t *testing.T) {}
`)

	fake := newFakeScannerStore()
	s := New(fake, nil, Config{ExcludeDirs: []string{"vendor"}})

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Discovered)
	assert.Empty(t, fake.tests)
}

func TestScanner_Scan_RecordsParseFailureWithoutAbortingScan(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "broken_test.go", `package broken

func TestBroken( {
`)
	writeTestFile(t, root, "good_test.go", `package good

// test_category(unit)
func TestGood(t *testing.T) {}
`)

	fake := newFakeScannerStore()
	s := New(fake, nil, Config{})

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.AnnotationErrors, 1)
	assert.Contains(t, report.AnnotationErrors[0].Path, "broken_test.go")
	assert.False(t, report.OK())
}

func TestScanner_Scan_UnrecognizedAxisValueDoesNotFailScan(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "odd_test.go", `package odd

// priority(urgent-ish)
func TestOddPriority(t *testing.T) {}
`)

	fake := newFakeScannerStore()
	s := New(fake, nil, Config{})

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	assert.Empty(t, report.AnnotationErrors, "unrecognized axis values are warnings, not scan failures")

	id := filepath.Join(root, "odd_test.go") + "::TestOddPriority"
	got := fake.tests[id]
	assert.Empty(t, got.Priority, "unrecognized priority value must not be applied")
}

func TestScanner_Scan_PropagatesFinalizeScanCounts(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a_test.go", `package a

func TestA(t *testing.T) {}
`)

	fake := newFakeScannerStore()
	fake.finalizeOrphaned = 2
	fake.finalizeReactivated = 1
	s := New(fake, nil, Config{})

	report, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Orphaned)
	assert.Equal(t, 1, report.Reactivated)
}

func TestScanner_Scan_CrashMidScanLeavesStoreUnchanged(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a_test.go", `package a

func TestA(t *testing.T) {}
`)
	writeTestFile(t, root, "b_test.go", `package b

func TestB(t *testing.T) {}
`)

	fake := newFakeScannerStore()
	fake.finalizeErr = errors.New("simulated crash during finalize")
	s := New(fake, nil, Config{})

	report, err := s.Scan(context.Background(), root)
	require.Error(t, err, "a failure anywhere in the scan's transaction must surface as a Scan error")
	assert.Nil(t, report)

	assert.Empty(t, fake.tests,
		"UpsertTest writes from a scan that never committed must not be visible")
	assert.Empty(t, fake.seen,
		"MarkSeen writes from a scan that never committed must not be visible")
}
