// Package api provides the HTTP surface of the daemon: route registration,
// request/response mapping onto the engine packages, and RFC 7807 error
// responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gonogo/rtm/internal/api/middleware"
	"github.com/gonogo/rtm/internal/report"
	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
	"github.com/gonogo/rtm/internal/tracker"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
	serviceName        = "rtmd"
	serviceVersion     = "v1.0.0"
	maxImportBodySize  = 64 << 20 // 64 MiB
)

// Route represents an HTTP route configuration with a path and handler.
// Used for declarative route registration with middleware bypass support.
type Route struct {
	Path    string
	Handler http.HandlerFunc
}

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /ready", s.handleReady},
		Route{"GET /health", s.handleHealth},
		Route{"/", s.handleNotFound},
	)

	mux.HandleFunc("GET /api/v1/matrix", s.handleMatrix)
	mux.HandleFunc("GET /api/v1/graph", s.handleGraph)
	mux.HandleFunc("GET /api/v1/graph/cycles", s.handleCycles)
	mux.HandleFunc("GET /api/v1/graph/critical-path", s.handleCriticalPath)
	mux.HandleFunc("GET /api/v1/graph/blocks", s.handleBlocks)

	mux.HandleFunc("GET /api/v1/dashboards/pm", s.handlePMDashboard)
	mux.HandleFunc("GET /api/v1/dashboards/po", s.handlePODashboard)
	mux.HandleFunc("GET /api/v1/dashboards/qa", s.handleQADashboard)

	mux.HandleFunc("POST /api/v1/scan", s.handleScan)
	mux.HandleFunc("POST /api/v1/sync", s.handleSync)

	mux.HandleFunc("POST /api/v1/admin/capabilities", s.handleCreateCapability)
	mux.HandleFunc("POST /api/v1/admin/epics", s.handleCreateEpic)
	mux.HandleFunc("POST /api/v1/admin/epics/{id}/status", s.handleSetEpicStatus)
	mux.HandleFunc("POST /api/v1/admin/dependencies", s.handleInsertDependency)
	mux.HandleFunc("DELETE /api/v1/admin/dependencies", s.handleDeleteDependency)

	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	mux.HandleFunc("POST /api/v1/import", s.handleImport)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
//
// Security Warning: never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// handleReady responds to readiness probes with a storage health check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var err error
	if s.apiKeyStore != nil { // pragma: allowlist secret
		err = s.apiKeyStore.HealthCheck(ctx)
	}

	// The report Store is checked too when it exposes a health check
	// (PostgresStore does), since the key store alone may be in-memory.
	if checker, ok := s.reportStore.(interface {
		HealthCheck(ctx context.Context) error
	}); ok && err == nil {
		err = checker.HealthCheck(ctx)
	}

	if err != nil {
		s.logger.Error("storage health check failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// handleMatrix serves GET /api/v1/matrix, the traceability matrix view used
// by `rtmctl report`.
func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := report.MatrixFilter{
		EpicID:       q.Get("epic"),
		CapabilityID: q.Get("capability"),
		Component:    q.Get("component"),
		Status:       rtm.UserStoryStatus(q.Get("status")),
		Priority:     q.Get("priority"),
	}

	matrix, err := s.engine.BuildMatrix(r.Context(), filter)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, MatrixResponse{Rows: matrix.Rows, Partial: matrix.Partial})
}

// handleGraph serves GET /api/v1/graph, optionally filtered by ?kind=
// (comma-separated DependencyKind values; defaults to all kinds).
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	kinds := parseDependencyKinds(r.URL.Query().Get("kind"))

	graph, err := s.engine.BuildDependencyGraph(r.Context(), kinds)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, GraphResponse{Nodes: graph.Nodes, Edges: graph.Edges})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.engine.FindCycles(r.Context())
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CyclesResponse{Cycles: cycles})
}

func (s *Server) handleCriticalPath(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("target query parameter is required"))

		return
	}

	path, err := s.engine.CriticalPath(r.Context(), target)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CriticalPathResponse{
		TargetEpicID: path.TargetEpicID,
		Steps:        path.Steps,
		TotalWeight:  path.TotalWeight,
	})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	epicID := r.URL.Query().Get("epic")
	if epicID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("epic query parameter is required"))

		return
	}

	blocked, err := s.engine.Blocks(r.Context(), epicID)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, BlocksResponse{EpicID: epicID, Blocked: blocked})
}

func (s *Server) handlePMDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.engine.BuildPMDashboard(r.Context())
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, dash)
}

func (s *Server) handlePODashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.engine.BuildPODashboard(r.Context())
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, dash)
}

func (s *Server) handleQADashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.engine.BuildQADashboard(r.Context())
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, dash)
}

// handleScan serves POST /api/v1/scan, triggering a synchronous source scan.
// Routed through the daemon rather than run locally by rtmctl so a single
// process owns the store's write-locking discipline for Test rows.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("scanning is not enabled on this daemon"))

		return
	}

	var req ScanRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	if req.Root == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("root is required"))

		return
	}

	result, err := s.scanner.Scan(r.Context(), req.Root)
	if err != nil {
		s.logger.Error("scan failed", slog.String("root", req.Root), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("scan failed: "+err.Error()))

		return
	}

	annotationErrors := make([]string, len(result.AnnotationErrors))
	for i, ae := range result.AnnotationErrors {
		annotationErrors[i] = ae.Path + ": " + ae.Message
	}

	s.writeJSON(w, r, http.StatusOK, ScanResponse{
		Discovered:       result.Discovered,
		Created:          result.Created,
		Updated:          result.Updated,
		Orphaned:         result.Orphaned,
		Reactivated:      result.Reactivated,
		AnnotationErrors: annotationErrors,
	})
}

// handleSync serves POST /api/v1/sync, triggering a tracker synchronization
// run. mode="full" runs SyncFull; anything else (including the default,
// empty value) runs SyncIncremental.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.synchronizer == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("tracker synchronization is not enabled on this daemon"))

		return
	}

	var req SyncRequest
	if r.ContentLength > 0 {
		if err := s.decodeJSONBody(r, &req); err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}
	}

	var (
		rep *tracker.SyncReport
		err error
	)

	if req.Mode == "full" {
		rep, err = s.synchronizer.SyncFull(r.Context())
	} else {
		rep, err = s.synchronizer.SyncIncremental(r.Context())
	}

	if err != nil {
		s.logger.Error("sync failed", slog.String("mode", req.Mode), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("sync failed: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, SyncResponse{
		ItemsProcessed:           rep.ItemsProcessed,
		UserStoriesCreated:       rep.UserStoriesCreated,
		UserStoriesUpdated:       rep.UserStoriesUpdated,
		DefectsCreated:           rep.DefectsCreated,
		DefectsUpdated:           rep.DefectsUpdated,
		EpicItemsSkipped:         rep.EpicItemsSkipped,
		UnrecognizedStatusLabels: rep.UnrecognizedStatusLabels,
		Errors:                   rep.Errors,
	})
}

func (s *Server) handleCreateCapability(w http.ResponseWriter, r *http.Request) {
	var req CreateCapabilityRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	capability := &rtm.Capability{ID: req.ID, Name: req.Title}
	if err := capability.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	if err := s.adminStore.CreateCapability(r.Context(), capability); err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, capability)
}

func (s *Server) handleCreateEpic(w http.ResponseWriter, r *http.Request) {
	var req CreateEpicRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	epic := &rtm.Epic{
		ID:           req.ID,
		Title:        req.Title,
		CapabilityID: req.CapabilityID,
		Status:       rtm.EpicStatusPlanned,
	}

	if err := s.adminStore.CreateEpic(r.Context(), epic); err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, epic)
}

func (s *Server) handleSetEpicStatus(w http.ResponseWriter, r *http.Request) {
	epicID := r.PathValue("id")

	var req SetEpicStatusRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	if !req.Status.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("unrecognized epic status"))

		return
	}

	if err := s.adminStore.SetEpicStatus(r.Context(), epicID, req.Status, req.AllowRegression); err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInsertDependency(w http.ResponseWriter, r *http.Request) {
	var req EpicDependencyRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	dep := &rtm.EpicDependency{FromEpicID: req.FromEpicID, ToEpicID: req.ToEpicID, Kind: req.Kind}
	if err := dep.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	if err := s.adminStore.InsertEpicDependency(r.Context(), dep); err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteDependency(w http.ResponseWriter, r *http.Request) {
	var req EpicDependencyRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	err := s.adminStore.DeleteEpicDependency(r.Context(), req.FromEpicID, req.ToEpicID, req.Kind)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExport serves GET /api/v1/export, a full read-only dump of the
// traceability graph for `rtmctl data export`.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	epics, err := s.reportStore.ListEpics(ctx, true)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	userStories, err := s.reportStore.ListUserStories(ctx, store.UserStoryFilter{})
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	tests, err := s.reportStore.ListAllTests(ctx)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	defects, err := s.reportStore.ListAllDefects(ctx)
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	deps, err := s.reportStore.ListEpicDependencies(ctx, rtm.ValidDependencyKinds())
	if err != nil {
		s.handleEngineError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, ExportDocument{
		Epics:            epics,
		UserStories:      userStories,
		Tests:            tests,
		Defects:          defects,
		EpicDependencies: deps,
	})
}

// handleImport serves POST /api/v1/import for `rtmctl data import`. Only
// Epics and EpicDependencies are replayed through AdminStore: UserStories,
// Tests, and Defects are owned by the Tracker Synchronizer, Source Scanner,
// and Execution Collector respectively (ownership is per-component, not
// administrative) and are restored by re-running those components against
// their original sources rather than through a generic import endpoint.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var doc ExportDocument

	body := io.LimitReader(r.Body, maxImportBodySize)
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON: "+err.Error()))

		return
	}

	ctx := r.Context()
	imported := 0

	for i := range doc.Epics {
		if err := s.adminStore.CreateEpic(ctx, &doc.Epics[i]); err != nil {
			s.handleEngineError(w, r, err)

			return
		}

		imported++
	}

	for i := range doc.EpicDependencies {
		if err := s.adminStore.InsertEpicDependency(ctx, &doc.EpicDependencies[i]); err != nil {
			s.handleEngineError(w, r, err)

			return
		}

		imported++
	}

	s.writeJSON(w, r, http.StatusOK, map[string]int{"imported": imported})
}

// handleEngineError maps store/engine sentinel errors onto RFC 7807
// responses, defaulting to 500 for anything unrecognized.
func (s *Server) handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))
	case errors.Is(err, store.ErrCycleDetected),
		errors.Is(err, store.ErrStatusRegression),
		errors.Is(err, store.ErrStaleExecution),
		errors.Is(err, store.ErrDuplicateAutoDefect):
		WriteErrorResponse(w, r, s.logger, Conflict(err.Error()))
	case errors.Is(err, report.ErrUnknownEpic):
		WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))
	case errors.Is(err, report.ErrGraphHasCycle):
		WriteErrorResponse(w, r, s.logger, Conflict(err.Error()))
	default:
		s.logger.Error("unhandled engine error", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("internal error"))
	}
}

func (s *Server) decodeJSONBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))

	return decoder.Decode(dst)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal response", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

func parseDependencyKinds(raw string) []rtm.DependencyKind {
	if raw == "" {
		return rtm.ValidDependencyKinds()
	}

	parts := strings.Split(raw, ",")
	kinds := make([]rtm.DependencyKind, 0, len(parts))

	for _, p := range parts {
		kind := rtm.DependencyKind(strings.TrimSpace(p))
		if kind.IsValid() {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}
