package rtm

import (
	"errors"
	"strings"
	"time"
)

// EpicStatus is the Epic lifecycle status. The lattice is
// planned < in_progress < in_review < done; cancelled sits outside the
// lattice and is reachable from any state.
type EpicStatus string

const (
	EpicStatusPlanned    EpicStatus = "planned"
	EpicStatusInProgress EpicStatus = "in_progress"
	EpicStatusInReview   EpicStatus = "in_review"
	EpicStatusDone       EpicStatus = "done"
	EpicStatusCancelled  EpicStatus = "cancelled"
)

// epicStatusRank orders the monotone lattice (invariant 3). Cancelled has no
// rank: it is reachable from any state and does not participate in the
// forward/regression comparison.
var epicStatusRank = map[EpicStatus]int{
	EpicStatusPlanned:    0,
	EpicStatusInProgress: 1,
	EpicStatusInReview:   2,
	EpicStatusDone:       3,
}

// ValidEpicStatuses returns all valid Epic status values.
func ValidEpicStatuses() []EpicStatus {
	return []EpicStatus{
		EpicStatusPlanned, EpicStatusInProgress, EpicStatusInReview,
		EpicStatusDone, EpicStatusCancelled,
	}
}

// IsValid reports whether s is a recognized EpicStatus.
func (s EpicStatus) IsValid() bool {
	for _, v := range ValidEpicStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// IsRegression reports whether transitioning from s to next moves backward
// in the planned < in_progress < in_review < done lattice. Cancelled is
// never a regression target or source in this comparison — it requires
// explicit administrative handling regardless of direction.
func (s EpicStatus) IsRegression(next EpicStatus) bool {
	fromRank, fromOK := epicStatusRank[s]
	toRank, toOK := epicStatusRank[next]
	if !fromOK || !toOK {
		return false
	}
	return toRank < fromRank
}

// Epic is a large unit of work and the primary rollup target.
type Epic struct {
	ID             string // EP-NNNNN
	Title          string
	Status         EpicStatus
	CapabilityID   string // optional, CAP-NNNNN
	TrackerRef     string // optional, mirrored status source
	Archived       bool   // soft-delete flag
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// ValueEstimate and CostEstimate are administratively configured inputs
	// to the PO dashboard's ROI metric (§4.4.3); AdoptionMetric is likewise
	// an administratively tracked per-Epic figure. The source material
	// references ROI and adoption without specifying where the underlying
	// value/cost/adoption figures come from (§9 Open Questions); resolved
	// here as plain Epic fields set at creation time, defaulting to 0.
	ValueEstimate  float64
	CostEstimate   float64
	AdoptionMetric float64

	// PlannedCompletionDate is an administratively configured target used
	// by the PM dashboard's schedule-variance metric (§4.4.3). Like the ROI
	// inputs above, the source material describes the metric without
	// naming where the planned date comes from; resolved the same way, as
	// a plain optional Epic field. Zero value means "no target set", in
	// which case schedule variance is not computed for that Epic.
	PlannedCompletionDate time.Time

	// Computed metrics (completion %, pass rate, defect density, ...) are
	// recomputed lazily by the Query Engine and cached there (§4.4.4); the
	// Epic row itself does not store them.
}

var (
	ErrEpicIDInvalid    = errors.New("epic id must match EP-NNNNN")
	ErrEpicTitleEmpty   = errors.New("epic title cannot be empty")
	ErrEpicStatusInvalid = errors.New("epic status is not a recognized value")
)

// Validate performs domain validation on the Epic.
func (e *Epic) Validate() error {
	if !strings.HasPrefix(e.ID, EpicIDPrefix) || !IsValidID(e.ID) {
		return ErrEpicIDInvalid
	}

	if strings.TrimSpace(e.Title) == "" {
		return ErrEpicTitleEmpty
	}

	if !e.Status.IsValid() {
		return ErrEpicStatusInvalid
	}

	return nil
}

// TransitionStatus applies next to the Epic, enforcing monotonicity
// (invariant 3) unless allowRegression is set (explicit administrative
// action). Regressions are always reported via the returned bool so the
// caller can log them, even when permitted.
func (e *Epic) TransitionStatus(next EpicStatus, allowRegression bool) (regressed bool, err error) {
	if !next.IsValid() {
		return false, ErrEpicStatusInvalid
	}

	regressed = e.Status.IsRegression(next)
	if regressed && !allowRegression {
		return true, ErrStatusRegressionDenied
	}

	e.Status = next
	return regressed, nil
}

// ErrStatusRegressionDenied is returned when a non-administrative caller
// attempts to move an Epic backward in the status lattice.
var ErrStatusRegressionDenied = errors.New("epic status regression requires explicit administrative action")
