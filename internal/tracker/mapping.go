package tracker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gonogo/rtm/internal/rtm"
)

// entityKind classifies a tracker item by its Ref prefix (§4.2 mapping
// contract).
type entityKind int

const (
	entityUnknown entityKind = iota
	entityUserStory
	entityDefect
	entityEpic // metadata only; Epic body is authored locally
)

func classify(ref string) entityKind {
	switch {
	case strings.HasPrefix(ref, "US-"):
		return entityUserStory
	case strings.HasPrefix(ref, "DEF-"):
		return entityDefect
	case strings.HasPrefix(ref, "EP-"):
		return entityEpic
	default:
		return entityUnknown
	}
}

var (
	pointsLabel    = regexp.MustCompile(`^points:(\d+)$`)
	parentEpicLine = regexp.MustCompile(`(?m)^Parent:\s*(EP-\d{5})\s*$`)
)

// extractPoints scans labels for the recognized points:N pattern.
func extractPoints(labels []string) int {
	for _, l := range labels {
		if m := pointsLabel.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}

// extractParentEpic scans the item body for the recognized "Parent:
// EP-NNNNN" line.
func extractParentEpic(body string) string {
	if m := parentEpicLine.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// mapStatus maps a tracker status label to the configured target status
// string via statusMapping. ok is false when the label is unrecognized
// (§4.2: "unknown labels leave status unchanged and are reported").
func mapStatus(statusMapping map[string]string, label string) (mapped string, ok bool) {
	mapped, ok = statusMapping[strings.ToLower(strings.TrimSpace(label))]
	return mapped, ok
}

// mapUserStory maps a tracker Item known to be a UserStory (Ref prefix
// US-) onto a rtm.UserStory. Status is left empty when the tracker's label
// is unrecognized — the Store interprets an empty incoming status as
// "leave unchanged" (§4.2: "unknown labels leave status unchanged and are
// reported").
func mapUserStory(item Item, statusMapping map[string]string) (story rtm.UserStory, statusRecognized bool) {
	story.Title = item.Title
	story.TrackerRef = item.Ref
	story.StoryPoints = extractPoints(item.Labels)
	story.Assignee = item.Assignee

	if mapped, ok := mapStatus(statusMapping, item.Status); ok {
		story.Status = rtm.UserStoryStatus(mapped)
		statusRecognized = true
	}

	story.PendingEpicID = extractParentEpic(item.Body)

	return story, statusRecognized
}

// mapDefect maps a tracker Item known to be a Defect (Ref prefix DEF-) onto
// a rtm.Defect, with the same "leave status unchanged" treatment as
// mapUserStory.
func mapDefect(item Item, statusMapping map[string]string) (defect rtm.Defect, statusRecognized bool) {
	defect.Title = item.Title
	defect.TrackerRef = item.Ref

	if mapped, ok := mapStatus(statusMapping, item.Status); ok {
		defect.Status = rtm.DefectStatus(mapped)
		statusRecognized = true
	}

	return defect, statusRecognized
}
