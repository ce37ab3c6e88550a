package rtm

import (
	"errors"
	"strings"
	"time"
)

// UserStoryStatus is the UserStory lifecycle status, authoritative from the
// external tracker and mirrored by the Tracker Synchronizer (C4).
type UserStoryStatus string

const (
	UserStoryStatusPlanned    UserStoryStatus = "planned"
	UserStoryStatusInProgress UserStoryStatus = "in_progress"
	UserStoryStatusInReview   UserStoryStatus = "in_review"
	UserStoryStatusDone       UserStoryStatus = "done"
	UserStoryStatusBlocked    UserStoryStatus = "blocked"
	UserStoryStatusCancelled  UserStoryStatus = "cancelled"
)

// ValidUserStoryStatuses returns all valid UserStory status values.
func ValidUserStoryStatuses() []UserStoryStatus {
	return []UserStoryStatus{
		UserStoryStatusPlanned, UserStoryStatusInProgress, UserStoryStatusInReview,
		UserStoryStatusDone, UserStoryStatusBlocked, UserStoryStatusCancelled,
	}
}

// IsValid reports whether s is a recognized UserStoryStatus.
func (s UserStoryStatus) IsValid() bool {
	for _, v := range ValidUserStoryStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// IsDone reports whether s counts toward an Epic's completed story points.
func (s UserStoryStatus) IsDone() bool {
	return s == UserStoryStatusDone
}

// UserStory is a unit of delivery, authoritative from the external tracker.
type UserStory struct {
	ID          string // US-NNNNN
	Title       string
	StoryPoints int
	Status      UserStoryStatus
	TrackerRef  string // authoritative, mandatory
	EpicID      string // parent Epic; empty while orphaned
	// PendingEpicID is the Epic ID extracted from the tracker's "Parent:"
	// line while the Epic has not yet been ingested (§6.2). It is what
	// ResolveOrphans matches against when the Epic is later created;
	// EpicID itself stays empty until resolution so readers never see a
	// reference that doesn't yet resolve (invariant 2).
	PendingEpicID string
	Orphan        bool // parent Epic not yet ingested
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Assignee attributes completed story points to a tracker user for the
	// PM dashboard's velocity-per-member metric (§4.4.3). The source
	// material leaves the attribution source unspecified (§9 Open
	// Questions: tracker field vs. commit author vs. annotation); this
	// engine takes the tracker's assignee field directly, matching
	// EngineConfig.VelocityAttribution's default of "tracker_assignee".
	Assignee string
}

var (
	ErrUserStoryIDInvalid       = errors.New("user story id must match US-NNNNN")
	ErrUserStoryTitleEmpty      = errors.New("user story title cannot be empty")
	ErrUserStoryStatusInvalid   = errors.New("user story status is not a recognized value")
	ErrUserStoryTrackerRefEmpty = errors.New("user story tracker reference is required")
	ErrUserStoryPointsNegative  = errors.New("user story points cannot be negative")
	ErrUserStoryOrphanHasEpic   = errors.New("user story flagged orphan cannot carry a resolved epic id")
	ErrUserStoryNotOrphanNoEpic = errors.New("user story not flagged orphan must carry an epic id")
)

// Validate performs domain validation on the UserStory.
func (u *UserStory) Validate() error {
	if !strings.HasPrefix(u.ID, UserStoryIDPrefix) || !IsValidID(u.ID) {
		return ErrUserStoryIDInvalid
	}

	if strings.TrimSpace(u.Title) == "" {
		return ErrUserStoryTitleEmpty
	}

	if u.StoryPoints < 0 {
		return ErrUserStoryPointsNegative
	}

	if !u.Status.IsValid() {
		return ErrUserStoryStatusInvalid
	}

	if strings.TrimSpace(u.TrackerRef) == "" {
		return ErrUserStoryTrackerRefEmpty
	}

	if u.Orphan && u.EpicID != "" {
		return ErrUserStoryOrphanHasEpic
	}

	if !u.Orphan && u.EpicID == "" {
		return ErrUserStoryNotOrphanNoEpic
	}

	return nil
}

// ResolveParent clears the orphan flag and links the UserStory to epicID.
// Called by the Tracker Synchronizer when a previously-missing parent Epic
// is ingested (scenario 3, invariant 2).
func (u *UserStory) ResolveParent(epicID string) {
	u.EpicID = epicID
	u.PendingEpicID = ""
	u.Orphan = false
}
