// Package scanner implements the Source Scanner: it walks a source tree,
// parses test files as Go source, extracts annotation metadata from doc
// comments, and reconciles Test rows in the Store.
package scanner

import (
	"regexp"
	"strings"

	"github.com/gonogo/rtm/internal/rtm"
)

// annotationLine matches a single decorator-like marker of the form
// axis(value1, value2, ...), as documented for the source-tree annotation
// format: epic(...), user_story(...), defect(...), component(...),
// priority(...), test_category(...), bdd_scenario(...).
var annotationLine = regexp.MustCompile(`^(epic|user_story|defect|component|priority|test_category|bdd_scenario)\(([^)]*)\)\s*$`)

// annotations holds the axes harvested from a test function's doc comment.
type annotations struct {
	EpicIDs             []string
	UserStoryIDs        []string
	DefectIDs           []string
	Components          []string
	Priority            rtm.TestPriority
	Type                rtm.TestType
	BDDScenarioRef      string
	UnrecognizedWarning []string
}

// parseAnnotations scans the lines of a doc comment for annotation markers.
// Unrecognized lines are ignored; an unrecognized axis value is not applied
// and is collected in UnrecognizedWarning, and never fails the scan (§4.1 "do
// not fail the scan").
func parseAnnotations(docText string) annotations {
	var a annotations

	for _, line := range strings.Split(docText, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "//"))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := annotationLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		axis, rawValues := m[1], m[2]
		values := splitValues(rawValues)

		switch axis {
		case "epic":
			a.EpicIDs = append(a.EpicIDs, values...)
		case "user_story":
			a.UserStoryIDs = append(a.UserStoryIDs, values...)
		case "defect":
			a.DefectIDs = append(a.DefectIDs, values...)
		case "component":
			a.Components = append(a.Components, values...)
		case "bdd_scenario":
			if len(values) > 0 {
				a.BDDScenarioRef = values[0]
			}
		case "priority":
			if len(values) > 0 {
				p := rtm.TestPriority(values[0])
				if p.IsValid() {
					a.Priority = p
				} else {
					a.UnrecognizedWarning = append(a.UnrecognizedWarning, "unrecognized priority: "+values[0])
				}
			}
		case "test_category":
			if len(values) > 0 {
				t := rtm.TestType(values[0])
				if t.IsValid() {
					a.Type = t
				} else {
					a.UnrecognizedWarning = append(a.UnrecognizedWarning, "unrecognized test_category: "+values[0])
				}
			}
		}
	}

	return a
}

func splitValues(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
