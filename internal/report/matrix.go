package report

import (
	"context"
	"fmt"

	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// BuildMatrix assembles the requirements matrix (§4.4.1): one row per
// UserStory matching filter, with its linked Tests, linked Defects, and
// parent Epic's rolled-up completion percentage.
func (e *Engine) BuildMatrix(ctx context.Context, filter MatrixFilter) (*Matrix, error) {
	stories, err := e.store.ListUserStories(ctx, store.UserStoryFilter{
		EpicID:       filter.EpicID,
		CapabilityID: filter.CapabilityID,
		Status:       filter.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("report: list user stories: %w", err)
	}

	matrix := &Matrix{Filter: filter}

	for _, story := range stories {
		select {
		case <-ctx.Done():
			matrix.Partial = true
			return matrix, nil
		default:
		}

		row, err := e.buildMatrixRow(ctx, story, filter.Component, filter.Priority)
		if err != nil {
			return nil, fmt.Errorf("report: build matrix row %s: %w", story.ID, err)
		}
		if row == nil {
			continue
		}

		matrix.Rows = append(matrix.Rows, *row)
	}

	return matrix, nil
}

// buildMatrixRow assembles one matrix row for story. Priority is a
// Test-level annotation (§6.1), not a UserStory field, so priorityFilter
// narrows the row's Tests the same way componentFilter does rather than
// filtering the UserStory itself; a row with no matching Test is dropped.
func (e *Engine) buildMatrixRow(ctx context.Context, story rtm.UserStory, componentFilter, priorityFilter string) (*MatrixRow, error) {
	tests, err := e.store.ListTestsForUserStory(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	if componentFilter != "" {
		var filtered []rtm.Test
		for _, t := range tests {
			if containsString(t.Components, componentFilter) {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			return nil, nil
		}
		tests = filtered
	}

	if priorityFilter != "" {
		var filtered []rtm.Test
		for _, t := range tests {
			if string(t.Priority) == priorityFilter {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			return nil, nil
		}
		tests = filtered
	}

	defects, err := e.store.ListDefectsForUserStory(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}

	row := MatrixRow{
		UserStoryID: story.ID,
		Title:       story.Title,
		Status:      story.Status,
		Components:  uniqueComponents(tests),
		CoverageGap: len(tests) == 0,
	}

	var passed, failed, errored int
	for _, t := range tests {
		if highestPriority(row.Priority, string(t.Priority)) {
			row.Priority = string(t.Priority)
		}

		summary := TestSummary{ID: t.ID, Type: t.Type}
		if t.LastExecution != nil {
			summary.Status = t.LastExecution.Status
			summary.DurationMs = t.LastExecution.DurationMs

			switch t.LastExecution.Status {
			case rtm.ExecutionStatusPassed, rtm.ExecutionStatusXPass:
				passed++
			case rtm.ExecutionStatusFailed:
				failed++
			case rtm.ExecutionStatusError:
				errored++
			}
		}
		row.Tests = append(row.Tests, summary)
	}
	row.TestPassRate = Fraction{Numerator: passed, Denominator: passed + failed + errored}

	for _, d := range defects {
		row.Defects = append(row.Defects, DefectSummary{ID: d.ID, Severity: d.Severity, Status: d.Status})
		if d.Status.IsOpen() {
			row.OpenDefects.add(d.Severity)
		}
	}

	if story.EpicID != "" {
		completion, err := e.epicCompletion(ctx, story.EpicID)
		if err != nil {
			return nil, fmt.Errorf("epic completion %s: %w", story.EpicID, err)
		}
		row.Epic = &EpicRollup{EpicID: story.EpicID, Completion: completion}
	}

	return &row, nil
}

// epicCompletion computes Σ(done story points) / Σ(total story points)
// across an Epic's UserStories, cached by "epic_completion:<id>" and
// invalidated on any write to that Epic or one of its UserStories (§4.4.1,
// §4.4.4).
func (e *Engine) epicCompletion(ctx context.Context, epicID string) (Fraction, error) {
	key := "epic_completion:" + epicID
	if cached, ok := e.cache.get(key); ok {
		return cached.(Fraction), nil
	}

	stories, err := e.store.ListUserStories(ctx, store.UserStoryFilter{EpicID: epicID})
	if err != nil {
		return Fraction{}, err
	}

	var done, total int
	for _, s := range stories {
		total += s.StoryPoints
		if s.Status.IsDone() {
			done += s.StoryPoints
		}
	}

	result := Fraction{Numerator: done, Denominator: total}
	e.cache.set(key, result)

	return result, nil
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// priorityRank orders TestPriority from most to least urgent for
// highestPriority's comparison; unrecognized values rank lowest.
var priorityRank = map[string]int{
	string(rtm.TestPriorityCritical): 3,
	string(rtm.TestPriorityHigh):     2,
	string(rtm.TestPriorityMedium):   1,
	string(rtm.TestPriorityLow):      0,
}

// highestPriority reports whether candidate outranks current (empty current
// always loses).
func highestPriority(current, candidate string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	return priorityRank[candidate] > priorityRank[current]
}

func uniqueComponents(tests []rtm.Test) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tests {
		for _, c := range t.Components {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	return out
}
