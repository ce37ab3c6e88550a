package rtm

import (
	"errors"
	"strings"
	"time"
)

// TestType classifies a Test by its testing layer.
type TestType string

const (
	TestTypeUnit        TestType = "unit"
	TestTypeIntegration TestType = "integration"
	TestTypeE2E         TestType = "e2e"
	TestTypeSecurity    TestType = "security"
	TestTypeBDD         TestType = "bdd"
)

// ValidTestTypes returns all valid TestType values.
func ValidTestTypes() []TestType {
	return []TestType{TestTypeUnit, TestTypeIntegration, TestTypeE2E, TestTypeSecurity, TestTypeBDD}
}

// IsValid reports whether t is a recognized TestType.
func (t TestType) IsValid() bool {
	for _, v := range ValidTestTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// TestPriority is the priority annotation carried on a Test.
type TestPriority string

const (
	TestPriorityCritical TestPriority = "critical"
	TestPriorityHigh     TestPriority = "high"
	TestPriorityMedium   TestPriority = "medium"
	TestPriorityLow      TestPriority = "low"
)

// ValidTestPriorities returns all valid TestPriority values.
func ValidTestPriorities() []TestPriority {
	return []TestPriority{TestPriorityCritical, TestPriorityHigh, TestPriorityMedium, TestPriorityLow}
}

// IsValid reports whether p is a recognized TestPriority.
func (p TestPriority) IsValid() bool {
	for _, v := range ValidTestPriorities() {
		if p == v {
			return true
		}
	}
	return false
}

// ExecutionStatus is the outcome of a single test execution.
type ExecutionStatus string

const (
	ExecutionStatusPassed  ExecutionStatus = "passed"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusSkipped ExecutionStatus = "skipped"
	ExecutionStatusError   ExecutionStatus = "error"
	ExecutionStatusXFail   ExecutionStatus = "xfail"
	ExecutionStatusXPass   ExecutionStatus = "xpass"
)

// ValidExecutionStatuses returns all valid ExecutionStatus values.
func ValidExecutionStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		ExecutionStatusPassed, ExecutionStatusFailed, ExecutionStatusSkipped,
		ExecutionStatusError, ExecutionStatusXFail, ExecutionStatusXPass,
	}
}

// IsValid reports whether s is a recognized ExecutionStatus.
func (s ExecutionStatus) IsValid() bool {
	for _, v := range ValidExecutionStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// IsFailure reports whether s counts as a failing outcome for auto-Defect
// escalation purposes (§4.3). xfail is an expected failure and is excluded.
func (s ExecutionStatus) IsFailure() bool {
	return s == ExecutionStatusFailed || s == ExecutionStatusError
}

// Execution records a single test-execution outcome.
type Execution struct {
	Status          ExecutionStatus
	DurationMs      int
	Timestamp       time.Time
	FailureCategory string // e.g. assertion, timeout, resource, flaky, integration
	FailureDigest   string // truncated hash of the failure message
}

// Test is an executable test discovered by the Source Scanner and enriched
// by the Execution Collector. Identity is file path + fully-qualified
// symbol name, not a hash (§4.1 step 4).
type Test struct {
	ID                  string // normalized "path::symbol"
	Type                TestType
	Components          []string // free-form tags
	Priority            TestPriority
	UserStoryIDs        []string // N:N association set, owned by the Scanner
	EpicIDs             []string // explicit annotations only; derived union is computed, not stored
	RegressionDefectIDs []string // defect(...) annotation: regression coverage
	BDDScenarioRef      string
	LastExecution       *Execution
	Orphaned            bool // source file no longer exists
	Uncovered           bool // resolves to no UserStory or Epic (invariant 5)
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

var (
	ErrTestIDEmpty         = errors.New("test id cannot be empty")
	ErrTestTypeInvalid     = errors.New("test type is not a recognized value")
	ErrTestPriorityInvalid = errors.New("test priority is not a recognized value")
)

// Validate performs domain validation on the Test.
func (t *Test) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrTestIDEmpty
	}

	if t.Type != "" && !t.Type.IsValid() {
		return ErrTestTypeInvalid
	}

	if t.Priority != "" && !t.Priority.IsValid() {
		return ErrTestPriorityInvalid
	}

	return nil
}

// RecomputeCoverage sets Uncovered based on the current association sets
// (invariant 5). derivedEpicIDs is the union over the Test's UserStories'
// parent Epics, computed by the caller (the Store joins this; the Scanner
// passes it through after an upsert).
func (t *Test) RecomputeCoverage(derivedEpicIDs []string) {
	t.Uncovered = len(t.UserStoryIDs) == 0 && len(t.EpicIDs) == 0 && len(derivedEpicIDs) == 0
}

// MergeAssociations applies union semantics when reconciling a rescan
// (§4.1 tie-breaking: never subtract in the scanner).
func (t *Test) MergeAssociations(userStoryIDs, epicIDs, regressionDefectIDs, components []string) {
	t.UserStoryIDs = unionStrings(t.UserStoryIDs, userStoryIDs)
	t.EpicIDs = unionStrings(t.EpicIDs, epicIDs)
	t.RegressionDefectIDs = unionStrings(t.RegressionDefectIDs, regressionDefectIDs)
	t.Components = unionStrings(t.Components, components)
}

func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))

	for _, v := range existing {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	for _, v := range incoming {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	return out
}

// ApplyExecution updates LastExecution enforcing execution monotonicity
// (invariant 6): a stale report (timestamp <= the stored timestamp) is
// discarded and ApplyExecution reports ok=false.
func (t *Test) ApplyExecution(exec Execution) (applied bool) {
	if t.LastExecution != nil && !exec.Timestamp.After(t.LastExecution.Timestamp) {
		return false
	}

	t.LastExecution = &exec
	return true
}
