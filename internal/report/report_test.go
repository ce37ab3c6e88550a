package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// fakeReportStore is an in-memory store.ReportStore, grounded on the
// teacher's two-implementation pattern for storage.APIKeyStore
// (PersistentKeyStore backed by Postgres, a parallel in-memory store used
// in tests).
type fakeReportStore struct {
	epics      map[string]rtm.Epic
	stories    map[string]rtm.UserStory
	tests      map[string][]rtm.Test // keyed by UserStoryID
	allTests   []rtm.Test
	defects    map[string][]rtm.Defect // keyed by UserStoryID
	allDefects []rtm.Defect
	deps       []rtm.EpicDependency
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{
		epics:   make(map[string]rtm.Epic),
		stories: make(map[string]rtm.UserStory),
		tests:   make(map[string][]rtm.Test),
		defects: make(map[string][]rtm.Defect),
	}
}

func (f *fakeReportStore) GetEpic(_ context.Context, id string) (*rtm.Epic, error) {
	e, ok := f.epics[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (f *fakeReportStore) ListEpics(_ context.Context, _ bool) ([]rtm.Epic, error) {
	var out []rtm.Epic
	for _, e := range f.epics {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeReportStore) GetUserStory(_ context.Context, id string) (*rtm.UserStory, error) {
	s, ok := f.stories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (f *fakeReportStore) ListUserStories(_ context.Context, filter store.UserStoryFilter) ([]rtm.UserStory, error) {
	var out []rtm.UserStory
	for _, s := range f.stories {
		if filter.EpicID != "" && s.EpicID != filter.EpicID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.CapabilityID != "" {
			epic, ok := f.epics[s.EpicID]
			if !ok || epic.CapabilityID != filter.CapabilityID {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeReportStore) ListTestsForUserStory(_ context.Context, userStoryID string) ([]rtm.Test, error) {
	return f.tests[userStoryID], nil
}

func (f *fakeReportStore) ListDefectsForUserStory(_ context.Context, userStoryID string) ([]rtm.Defect, error) {
	return f.defects[userStoryID], nil
}

func (f *fakeReportStore) ListEpicDependencies(_ context.Context, kinds []rtm.DependencyKind) ([]rtm.EpicDependency, error) {
	var out []rtm.EpicDependency
	for _, d := range f.deps {
		for _, k := range kinds {
			if d.Kind == k {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeReportStore) ListAllTests(_ context.Context) ([]rtm.Test, error) {
	return f.allTests, nil
}

func (f *fakeReportStore) ListAllDefects(_ context.Context) ([]rtm.Defect, error) {
	return f.allDefects, nil
}

func newTestEngine(st store.ReportStore) (*Engine, *store.Notifier) {
	notifier := store.NewNotifier()
	cfg := config.DefaultEngineConfig()
	return New(st, notifier, cfg, nil), notifier
}

func TestBuildMatrix_RollsUpEpicCompletionAndDefects(t *testing.T) {
	fs := newFakeReportStore()
	fs.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", Title: "Checkout", Status: rtm.EpicStatusInProgress}
	fs.stories["US-00001"] = rtm.UserStory{
		ID: "US-00001", Title: "Pay by card", EpicID: "EP-00001",
		Status: rtm.UserStoryStatusDone, StoryPoints: 5, TrackerRef: "JIRA-1",
	}
	fs.stories["US-00002"] = rtm.UserStory{
		ID: "US-00002", Title: "Pay by wallet", EpicID: "EP-00001",
		Status: rtm.UserStoryStatusInProgress, StoryPoints: 3, TrackerRef: "JIRA-2",
	}
	fs.tests["US-00001"] = []rtm.Test{
		{ID: "pkg/a_test.go::TestA", Type: rtm.TestTypeUnit, LastExecution: &rtm.Execution{Status: rtm.ExecutionStatusPassed}},
	}
	fs.defects["US-00001"] = []rtm.Defect{
		{ID: "DEF-00001", Severity: rtm.DefectSeverityHigh, Status: rtm.DefectStatusOpen},
	}

	e, _ := newTestEngine(fs)

	matrix, err := e.BuildMatrix(context.Background(), MatrixFilter{})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 2)

	var row1 *MatrixRow
	for i := range matrix.Rows {
		if matrix.Rows[i].UserStoryID == "US-00001" {
			row1 = &matrix.Rows[i]
		}
	}
	require.NotNil(t, row1)
	assert.Equal(t, 1, row1.OpenDefects.High)
	assert.False(t, row1.CoverageGap)
	require.NotNil(t, row1.Epic)
	assert.Equal(t, Fraction{Numerator: 5, Denominator: 8}, row1.Epic.Completion)
	assert.InDelta(t, 0.625, row1.Epic.Completion.Ratio(), 0.0001)
}

func TestBuildMatrix_CoverageGapWhenNoTests(t *testing.T) {
	fs := newFakeReportStore()
	fs.stories["US-00001"] = rtm.UserStory{
		ID: "US-00001", Title: "Orphaned", Orphan: true, Status: rtm.UserStoryStatusPlanned, TrackerRef: "JIRA-1",
	}

	e, _ := newTestEngine(fs)

	matrix, err := e.BuildMatrix(context.Background(), MatrixFilter{})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 1)
	assert.True(t, matrix.Rows[0].CoverageGap)
	assert.Nil(t, matrix.Rows[0].Epic)
}

func TestBuildMatrix_ComponentFilterDropsNonMatchingRows(t *testing.T) {
	fs := newFakeReportStore()
	fs.stories["US-00001"] = rtm.UserStory{ID: "US-00001", Title: "A", Status: rtm.UserStoryStatusPlanned, TrackerRef: "JIRA-1", Orphan: true}
	fs.stories["US-00002"] = rtm.UserStory{ID: "US-00002", Title: "B", Status: rtm.UserStoryStatusPlanned, TrackerRef: "JIRA-2", Orphan: true}
	fs.tests["US-00001"] = []rtm.Test{{ID: "t1", Components: []string{"billing"}}}
	fs.tests["US-00002"] = []rtm.Test{{ID: "t2", Components: []string{"search"}}}

	e, _ := newTestEngine(fs)

	matrix, err := e.BuildMatrix(context.Background(), MatrixFilter{Component: "billing"})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 1)
	assert.Equal(t, "US-00001", matrix.Rows[0].UserStoryID)
}

func TestEpicCompletion_CachedUntilInvalidated(t *testing.T) {
	fs := newFakeReportStore()
	fs.epics["EP-00001"] = rtm.Epic{ID: "EP-00001"}
	fs.stories["US-00001"] = rtm.UserStory{ID: "US-00001", EpicID: "EP-00001", Status: rtm.UserStoryStatusPlanned, StoryPoints: 4, TrackerRef: "JIRA-1"}

	e, notifier := newTestEngine(fs)
	defer e.Close()

	first, err := e.epicCompletion(context.Background(), "EP-00001")
	require.NoError(t, err)
	assert.Equal(t, Fraction{0, 4}, first)

	// Mutate the backing store directly; the cache should still return the
	// stale value until a change notification invalidates the key.
	s := fs.stories["US-00001"]
	s.Status = rtm.UserStoryStatusDone
	fs.stories["US-00001"] = s

	cachedAgain, err := e.epicCompletion(context.Background(), "EP-00001")
	require.NoError(t, err)
	assert.Equal(t, Fraction{0, 4}, cachedAgain, "cache should not see the mutation yet")

	// A UserStory write in the Store publishes the story and its parent Epic.
	notifier.Publish(store.TopicUserStory, "US-00001")
	notifier.Publish(store.TopicEpic, "EP-00001")
	require.Eventually(t, func() bool {
		_, ok := e.cache.get("epic_completion:EP-00001")
		return !ok
	}, time.Second, time.Millisecond, "cache entry should be invalidated")

	fresh, err := e.epicCompletion(context.Background(), "EP-00001")
	require.NoError(t, err)
	assert.Equal(t, Fraction{4, 4}, fresh)
}

func TestFindCycles_DetectsStronglyConnectedComponent(t *testing.T) {
	fs := newFakeReportStore()
	fs.deps = []rtm.EpicDependency{
		{FromEpicID: "EP-00001", ToEpicID: "EP-00002", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00002", ToEpicID: "EP-00003", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00003", ToEpicID: "EP-00001", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00004", ToEpicID: "EP-00005", Kind: rtm.DependencyKindBlocks},
	}

	e, _ := newTestEngine(fs)

	cycles, err := e.FindCycles(context.Background())
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"EP-00001", "EP-00002", "EP-00003"}, cycles[0].EpicIDs)
}

func TestCriticalPath_LongestWeightedPath(t *testing.T) {
	fs := newFakeReportStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", CreatedAt: base}
	fs.epics["EP-00002"] = rtm.Epic{ID: "EP-00002", CreatedAt: base.AddDate(0, 0, 1)}
	fs.epics["EP-00003"] = rtm.Epic{ID: "EP-00003", CreatedAt: base.AddDate(0, 0, 2)}
	fs.stories["US-1"] = rtm.UserStory{ID: "US-1", EpicID: "EP-00001", StoryPoints: 5, Status: rtm.UserStoryStatusPlanned, TrackerRef: "J1"}
	fs.stories["US-2"] = rtm.UserStory{ID: "US-2", EpicID: "EP-00002", StoryPoints: 3, Status: rtm.UserStoryStatusPlanned, TrackerRef: "J2"}
	fs.stories["US-3"] = rtm.UserStory{ID: "US-3", EpicID: "EP-00003", StoryPoints: 8, Status: rtm.UserStoryStatusPlanned, TrackerRef: "J3"}
	fs.deps = []rtm.EpicDependency{
		{FromEpicID: "EP-00001", ToEpicID: "EP-00003", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00002", ToEpicID: "EP-00003", Kind: rtm.DependencyKindBlocks},
	}

	e, _ := newTestEngine(fs)

	path, err := e.CriticalPath(context.Background(), "EP-00003")
	require.NoError(t, err)
	assert.Equal(t, 13, path.TotalWeight) // EP-00001 (5) -> EP-00003 (8), longer than EP-00002(3)->EP-00003(8)=11
	require.Len(t, path.Steps, 2)
	assert.Equal(t, "EP-00001", path.Steps[0].EpicID)
	assert.Equal(t, "EP-00003", path.Steps[1].EpicID)
}

func TestBlocks_TransitiveClosure(t *testing.T) {
	fs := newFakeReportStore()
	fs.deps = []rtm.EpicDependency{
		{FromEpicID: "EP-00001", ToEpicID: "EP-00002", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00002", ToEpicID: "EP-00003", Kind: rtm.DependencyKindBlocks},
		{FromEpicID: "EP-00001", ToEpicID: "EP-00004", Kind: rtm.DependencyKindRelatesTo},
	}

	e, _ := newTestEngine(fs)

	blocked, err := e.Blocks(context.Background(), "EP-00001")
	require.NoError(t, err)
	assert.Equal(t, []string{"EP-00002", "EP-00003"}, blocked)
}

func TestBuildPODashboard_ComputesROIAndAdoption(t *testing.T) {
	fs := newFakeReportStore()
	fs.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", ValueEstimate: 100, CostEstimate: 25, AdoptionMetric: 0.8}
	fs.epics["EP-00002"] = rtm.Epic{ID: "EP-00002", ValueEstimate: 50} // zero cost: ROI should be 0, not NaN/Inf

	e, _ := newTestEngine(fs)

	dash, err := e.BuildPODashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, dash.ROI, 2)

	byID := map[string]EpicROI{}
	for _, r := range dash.ROI {
		byID[r.EpicID] = r
	}
	assert.InDelta(t, 4.0, byID["EP-00001"].ROI, 0.0001)
	assert.Equal(t, 0.8, byID["EP-00001"].Adoption)
	assert.Equal(t, 0.0, byID["EP-00002"].ROI)
}

func TestBuildQADashboard_CoverageAndTechDebt(t *testing.T) {
	fs := newFakeReportStore()
	fs.epics["EP-00001"] = rtm.Epic{ID: "EP-00001"}
	fs.stories["US-1"] = rtm.UserStory{ID: "US-1", EpicID: "EP-00001", StoryPoints: 10, Status: rtm.UserStoryStatusPlanned, TrackerRef: "J1"}
	fs.tests["US-1"] = []rtm.Test{
		{ID: "t1", LastExecution: &rtm.Execution{Status: rtm.ExecutionStatusPassed}},
		{ID: "t2", LastExecution: &rtm.Execution{Status: rtm.ExecutionStatusFailed}},
	}
	fs.allDefects = []rtm.Defect{
		{ID: "DEF-1", UserStoryID: "US-1", Severity: rtm.DefectSeverityCritical, Status: rtm.DefectStatusOpen, CreatedAt: time.Now().AddDate(0, 0, -10)},
	}

	e, _ := newTestEngine(fs)

	dash, err := e.BuildQADashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, dash.Coverage, 1)

	cov := dash.Coverage[0]
	assert.Equal(t, 2, cov.TestCount)
	assert.Equal(t, 2.0, cov.TestsPerUS)
	assert.InDelta(t, 0.1, cov.DefectDensity, 0.0001)
	assert.Greater(t, cov.TechDebtScore, 0.0)
}

func TestBuildPMDashboard_VelocityAttributedToAssignee(t *testing.T) {
	fs := newFakeReportStore()
	fs.stories["US-1"] = rtm.UserStory{
		ID: "US-1", Status: rtm.UserStoryStatusDone, StoryPoints: 8, Assignee: "alice",
		TrackerRef: "J1", Orphan: true, UpdatedAt: time.Now(),
	}
	fs.stories["US-2"] = rtm.UserStory{
		ID: "US-2", Status: rtm.UserStoryStatusInProgress, StoryPoints: 5, Assignee: "bob",
		TrackerRef: "J2", Orphan: true, UpdatedAt: time.Now(),
	}

	e, _ := newTestEngine(fs)

	dash, err := e.BuildPMDashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, dash.Velocity, 1)
	assert.Equal(t, "alice", dash.Velocity[0].Assignee)
	assert.Equal(t, 8, dash.Velocity[0].StoryPoints)
}
