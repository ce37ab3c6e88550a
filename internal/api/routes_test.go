package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/report"
	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// fakeReportStore is a minimal in-memory store.ReportStore for exercising
// the HTTP handlers without a database.
type fakeReportStore struct {
	epics   map[string]rtm.Epic
	stories map[string]rtm.UserStory
	deps    []rtm.EpicDependency
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{epics: make(map[string]rtm.Epic), stories: make(map[string]rtm.UserStory)}
}

func (f *fakeReportStore) GetEpic(_ context.Context, id string) (*rtm.Epic, error) {
	e, ok := f.epics[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &e, nil
}

func (f *fakeReportStore) ListEpics(_ context.Context, _ bool) ([]rtm.Epic, error) {
	out := make([]rtm.Epic, 0, len(f.epics))
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
	out := make([]rtm.UserStory, 0, len(f.stories))

	for _, s := range f.stories {
		if filter.EpicID != "" && s.EpicID != filter.EpicID {
			continue
		}

		out = append(out, s)
	}

	return out, nil
}

func (f *fakeReportStore) ListTestsForUserStory(_ context.Context, _ string) ([]rtm.Test, error) {
	return nil, nil
}

func (f *fakeReportStore) ListDefectsForUserStory(_ context.Context, _ string) ([]rtm.Defect, error) {
	return nil, nil
}

func (f *fakeReportStore) ListEpicDependencies(_ context.Context, _ []rtm.DependencyKind) ([]rtm.EpicDependency, error) {
	return f.deps, nil
}

func (f *fakeReportStore) ListAllTests(_ context.Context) ([]rtm.Test, error) { return nil, nil }

func (f *fakeReportStore) ListAllDefects(_ context.Context) ([]rtm.Defect, error) { return nil, nil }

// fakeAdminStore is a minimal in-memory store.AdminStore.
type fakeAdminStore struct {
	report *fakeReportStore
}

func (a *fakeAdminStore) CreateCapability(_ context.Context, _ *rtm.Capability) error { return nil }

func (a *fakeAdminStore) CreateEpic(_ context.Context, epic *rtm.Epic) error {
	a.report.epics[epic.ID] = *epic

	return nil
}

func (a *fakeAdminStore) SetEpicStatus(_ context.Context, epicID string, status rtm.EpicStatus, _ bool) error {
	e, ok := a.report.epics[epicID]
	if !ok {
		return store.ErrNotFound
	}

	e.Status = status
	a.report.epics[epicID] = e

	return nil
}

func (a *fakeAdminStore) InsertEpicDependency(_ context.Context, dep *rtm.EpicDependency) error {
	a.report.deps = append(a.report.deps, *dep)

	return nil
}

func (a *fakeAdminStore) DeleteEpicDependency(_ context.Context, fromEpicID, toEpicID string, kind rtm.DependencyKind) error {
	out := a.report.deps[:0]

	for _, d := range a.report.deps {
		if d.FromEpicID == fromEpicID && d.ToEpicID == toEpicID && d.Kind == kind {
			continue
		}

		out = append(out, d)
	}

	a.report.deps = out

	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeReportStore, *fakeAdminStore) {
	t.Helper()

	reportStore := newFakeReportStore()
	adminStore := &fakeAdminStore{report: reportStore}

	notifier := store.NewNotifier()
	engine := report.New(reportStore, notifier, config.DefaultEngineConfig(), slog.New(slog.DiscardHandler))

	cfg := LoadServerConfig()

	srv := &Server{
		logger:      slog.New(slog.DiscardHandler),
		config:      &cfg,
		reportStore: reportStore,
		adminStore:  adminStore,
		engine:      engine,
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)
	srv.httpServer = &http.Server{Handler: mux}

	return srv, reportStore, adminStore
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader

	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestHandlePing(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/ping", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestHandleScan_DisabledWhenScannerNil(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/scan", ScanRequest{Root: "."})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetEpicStatus_PlannedToInProgress(t *testing.T) {
	srv, reportStore, _ := newTestServer(t)
	reportStore.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", Title: "", CapabilityID: "CAP-00001", Status: rtm.EpicStatusPlanned}

	rec := doRequest(srv, http.MethodPost, "/api/v1/admin/epics/EP-00001/status", SetEpicStatusRequest{
		Status: rtm.EpicStatusInProgress,
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, rtm.EpicStatusInProgress, reportStore.epics["EP-00001"].Status)
}

func TestHandleSetEpicStatus_UnknownEpic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/admin/epics/EP-99999/status", SetEpicStatusRequest{
		Status: rtm.EpicStatusInProgress,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetEpicStatus_InvalidStatusRejected(t *testing.T) {
	srv, reportStore, _ := newTestServer(t)
	reportStore.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", Status: rtm.EpicStatusPlanned}

	rec := doRequest(srv, http.MethodPost, "/api/v1/admin/epics/EP-00001/status", SetEpicStatusRequest{
		Status: rtm.EpicStatus("bogus"),
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleMatrix_Empty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/v1/matrix", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp MatrixResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Rows)
}

func TestHandleExport(t *testing.T) {
	srv, reportStore, _ := newTestServer(t)
	reportStore.epics["EP-00001"] = rtm.Epic{ID: "EP-00001", Title: "Checkout"}

	rec := doRequest(srv, http.MethodGet, "/api/v1/export", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var doc ExportDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc.Epics, 1)
}

func TestHandleImport_RejectsMalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/does/not/exist", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "https://gonogo.dev/problems/404", problem.Type)
}
