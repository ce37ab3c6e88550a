// Package api provides the HTTP surface of the daemon: route registration,
// request/response mapping onto the engine packages, and RFC 7807 error
// responses.
package api

import (
	"github.com/gonogo/rtm/internal/report"
	"github.com/gonogo/rtm/internal/rtm"
)

type (
	// VersionResponse represents the /ping and /health identification payload.
	VersionResponse struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// MatrixResponse wraps report.Matrix for the GET /api/v1/matrix endpoint.
	MatrixResponse struct {
		Rows    []report.MatrixRow `json:"rows"`
		Partial bool               `json:"partial"`
	}

	// GraphResponse wraps report.DependencyGraph for GET /api/v1/graph.
	GraphResponse struct {
		Nodes []report.GraphNode `json:"nodes"`
		Edges []report.GraphEdge `json:"edges"`
	}

	// CyclesResponse wraps the cycle list for GET /api/v1/graph/cycles.
	CyclesResponse struct {
		Cycles []report.Cycle `json:"cycles"`
	}

	// CriticalPathResponse wraps report.CriticalPath for GET /api/v1/graph/critical-path.
	CriticalPathResponse struct {
		TargetEpicID string                    `json:"target_epic_id"` //nolint:tagliatelle
		Steps        []report.CriticalPathStep `json:"steps"`
		TotalWeight  int                       `json:"total_weight"` //nolint:tagliatelle
	}

	// BlocksResponse wraps the transitive-closure result for GET /api/v1/graph/blocks.
	BlocksResponse struct {
		EpicID  string   `json:"epic_id"` //nolint:tagliatelle
		Blocked []string `json:"blocked"`
	}

	// ScanRequest is the POST /api/v1/scan request body.
	ScanRequest struct {
		Root string `json:"root"`
	}

	// ScanResponse reports the outcome of a source scan.
	ScanResponse struct {
		Discovered       int      `json:"discovered"`
		Created          int      `json:"created"`
		Updated          int      `json:"updated"`
		Orphaned         int      `json:"orphaned"`
		Reactivated      int      `json:"reactivated"`
		AnnotationErrors []string `json:"annotation_errors,omitempty"` //nolint:tagliatelle
	}

	// SyncRequest is the POST /api/v1/sync request body.
	SyncRequest struct {
		// Mode is "full" or "incremental". Defaults to "incremental".
		Mode string `json:"mode"`
	}

	// SyncResponse reports the outcome of a tracker synchronization run.
	SyncResponse struct {
		ItemsProcessed           int      `json:"items_processed"`            //nolint:tagliatelle
		UserStoriesCreated       int      `json:"user_stories_created"`       //nolint:tagliatelle
		UserStoriesUpdated       int      `json:"user_stories_updated"`       //nolint:tagliatelle
		DefectsCreated           int      `json:"defects_created"`            //nolint:tagliatelle
		DefectsUpdated           int      `json:"defects_updated"`            //nolint:tagliatelle
		EpicItemsSkipped         int      `json:"epic_items_skipped"`         //nolint:tagliatelle
		UnrecognizedStatusLabels []string `json:"unrecognized_status_labels"` //nolint:tagliatelle
		Errors                   []string `json:"errors,omitempty"`
	}

	// CreateCapabilityRequest is the POST /api/v1/admin/capabilities request body.
	CreateCapabilityRequest struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	// CreateEpicRequest is the POST /api/v1/admin/epics request body.
	CreateEpicRequest struct {
		ID           string `json:"id"`
		CapabilityID string `json:"capability_id"` //nolint:tagliatelle
		Title        string `json:"title"`
	}

	// SetEpicStatusRequest is the POST /api/v1/admin/epics/{id}/status request body.
	SetEpicStatusRequest struct {
		Status          rtm.EpicStatus `json:"status"`
		AllowRegression bool           `json:"allow_regression"` //nolint:tagliatelle
	}

	// EpicDependencyRequest is the request body shared by the POST and DELETE
	// /api/v1/admin/dependencies endpoints.
	EpicDependencyRequest struct {
		FromEpicID string             `json:"from_epic_id"` //nolint:tagliatelle
		ToEpicID   string             `json:"to_epic_id"`   //nolint:tagliatelle
		Kind       rtm.DependencyKind `json:"kind"`
	}

	// ExportDocument is the full-fidelity export format written by
	// GET /api/v1/export and consumed by POST /api/v1/import.
	ExportDocument struct {
		Epics            []rtm.Epic           `json:"epics"`
		UserStories       []rtm.UserStory      `json:"user_stories"`        //nolint:tagliatelle
		Tests            []rtm.Test           `json:"tests"`
		Defects          []rtm.Defect         `json:"defects"`
		EpicDependencies []rtm.EpicDependency `json:"epic_dependencies"` //nolint:tagliatelle
	}
)
