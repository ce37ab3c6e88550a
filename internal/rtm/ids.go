// Package rtm provides the traceability domain model: Capability, Epic,
// UserStory, Defect, Test, and EpicDependency entities, and the invariants
// that must hold on them after every committed write.
package rtm

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Entity ID prefixes. IDs are immutable once assigned (invariant 1).
const (
	CapabilityIDPrefix = "CAP-"
	EpicIDPrefix       = "EP-"
	UserStoryIDPrefix  = "US-"
	DefectIDPrefix     = "DEF-"
)

var idPattern = regexp.MustCompile(`^[A-Z]+-\d{5}$`)

// IsValidID reports whether id follows the PREFIX-NNNNN convention (five
// zero-padded digits) shared by Capability, Epic, UserStory, and Defect.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// formatID zero-pads seq into a five-digit id under prefix.
func formatID(prefix string, seq int) string {
	return fmt.Sprintf("%s%05d", prefix, seq)
}

// FormatUserStoryID renders a UserStory id from a Store-allocated sequence
// value (§4.2: the Tracker Synchronizer assigns a fresh US-NNNNN id the
// first time a tracker item is seen).
func FormatUserStoryID(seq int64) string {
	return formatID(UserStoryIDPrefix, int(seq))
}

// FormatDefectID renders a Defect id from a Store-allocated sequence value
// (§4.2 tracker-mirrored Defects, §4.3 auto-created Defects).
func FormatDefectID(seq int64) string {
	return formatID(DefectIDPrefix, int(seq))
}

// NewRowUUID returns a fresh internal row identity, used for surrogate keys
// that back the human-readable PREFIX-NNNNN identifiers (sequence allocation
// is the Store's job; this is for rows that don't carry one yet, such as a
// pending Test row created by the Collector before a scan has run).
func NewRowUUID() string {
	return uuid.New().String()
}
