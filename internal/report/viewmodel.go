// Package report implements the Query & Report Engine (C6): read-only
// view-models over the requirements matrix, the Epic dependency graph, and
// the PM/PO/QA persona dashboards. It never writes to the Store (§4.4).
package report

import "github.com/gonogo/rtm/internal/rtm"

// Fraction reports a rollup as a numerator/denominator pair rather than a
// bare float, so a 0/0 case is distinguishable from a genuine 0.0 and the
// UI can render "3 of 5" without re-deriving it from a rounded percentage
// (§4.4.1: "reported as a rational ... to avoid floating-point
// ambiguity").
type Fraction struct {
	Numerator   int
	Denominator int
}

// Ratio returns the fraction's value bounded to [0, 1], or 0 when the
// denominator is 0.
func (f Fraction) Ratio() float64 {
	if f.Denominator == 0 {
		return 0
	}
	ratio := float64(f.Numerator) / float64(f.Denominator)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// DefectCountBySeverity tallies open Defects by severity for a matrix row
// or an Epic rollup.
type DefectCountBySeverity struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// Total returns the sum across all severities.
func (d DefectCountBySeverity) Total() int {
	return d.Critical + d.High + d.Medium + d.Low
}

func (d *DefectCountBySeverity) add(severity rtm.DefectSeverity) {
	switch severity {
	case rtm.DefectSeverityCritical:
		d.Critical++
	case rtm.DefectSeverityHigh:
		d.High++
	case rtm.DefectSeverityMedium:
		d.Medium++
	case rtm.DefectSeverityLow:
		d.Low++
	}
}

// TestSummary is the matrix's per-Test column: the Test's identity plus its
// last recorded outcome.
type TestSummary struct {
	ID         string
	Type       rtm.TestType
	Status     rtm.ExecutionStatus // empty if never executed
	DurationMs int
}

// DefectSummary is the matrix's per-Defect column.
type DefectSummary struct {
	ID       string
	Severity rtm.DefectSeverity
	Status   rtm.DefectStatus
}

// EpicRollup is the parent Epic's rolled-up completion, attached to every
// matrix row that belongs to it (§4.4.1).
type EpicRollup struct {
	EpicID     string
	Completion Fraction // done story points / total story points
}

// MatrixRow is one row of the requirements matrix: a UserStory with its
// linked Tests, linked Defects (by severity), and parent Epic rollup.
type MatrixRow struct {
	UserStoryID  string                `json:"user_story_id"` //nolint:tagliatelle
	Title        string                `json:"title"`
	Status       rtm.UserStoryStatus   `json:"status"`
	Priority     string                `json:"priority"`
	Components   []string              `json:"components"`
	Tests        []TestSummary         `json:"tests"`
	TestPassRate Fraction              `json:"test_pass_rate"` //nolint:tagliatelle // passed / (passed+failed+error), last run only
	Defects      []DefectSummary       `json:"defects"`
	OpenDefects  DefectCountBySeverity `json:"open_defects"` //nolint:tagliatelle
	Epic         *EpicRollup           `json:"epic"`         // nil if orphaned
	CoverageGap  bool                  `json:"coverage_gap"` //nolint:tagliatelle // no associated Tests at all
}

// Matrix is the full requirements-matrix view-model returned by
// BuildMatrix, plus the filters that produced it.
type Matrix struct {
	Rows    []MatrixRow
	Filter  MatrixFilter
	Partial bool // true if the computation was cut short by a deadline (§5)
}

// MatrixFilter narrows the requirements matrix (§4.4.1).
type MatrixFilter struct {
	EpicID       string
	CapabilityID string
	Component    string
	Status       rtm.UserStoryStatus
	Priority     string
}

// GraphNode is one Epic vertex in the dependency graph view-model.
type GraphNode struct {
	EpicID string
	Title  string
	Status rtm.EpicStatus
}

// GraphEdge is one directed edge in the dependency graph view-model.
type GraphEdge struct {
	FromEpicID string
	ToEpicID   string
	Kind       rtm.DependencyKind
	Rationale  string
}

// DependencyGraph is the rendered Epic dependency graph (§4.4.2 Render).
type DependencyGraph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// Cycle is one strongly-connected component of size > 1 found by
// FindCycles, listing member Epic IDs in the order Tarjan's algorithm pops
// them off its stack (the reverse of the order they were visited).
type Cycle struct {
	EpicIDs []string
}

// CriticalPathStep is one Epic on the critical path to a target, in path
// order (root first, target last).
type CriticalPathStep struct {
	EpicID string
	Weight int // story points contributed by this Epic (sum over its UserStories)
}

// CriticalPath is the result of a critical-path computation for a target
// Epic (§4.4.2).
type CriticalPath struct {
	TargetEpicID string
	Steps        []CriticalPathStep
	TotalWeight  int
}
