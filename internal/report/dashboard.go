package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// ScheduleVariance is one Epic's planned-vs-actual completion comparison
// for the PM dashboard (§4.4.3). Planned is zero when the Epic carries no
// configured PlannedCompletionDate, in which case Variance is not computed.
type ScheduleVariance struct {
	EpicID       string
	Planned      time.Time
	Actual       time.Time // Epic.UpdatedAt at the time status became done; zero if not done
	HasVariance  bool
	VarianceDays float64 // actual - planned, positive means late
}

// VelocityPerMember is completed story points per tracker assignee over
// EngineConfig.VelocityWindowWeeks (§4.4.3, attribution source resolved to
// UserStory.Assignee — see its doc comment).
type VelocityPerMember struct {
	Assignee    string
	StoryPoints int
	PerWeek     float64
}

// RiskEpic is an Epic flagged on the PM dashboard's risk list: one whose
// critical-path predecessor is overdue, or whose open-defect density is
// rising relative to its story-point size.
type RiskEpic struct {
	EpicID        string
	OverduePred   bool
	DefectDensity float64
}

// PMDashboard is the PM persona view-model (§4.4.3).
type PMDashboard struct {
	ScheduleVariance []ScheduleVariance
	Velocity         []VelocityPerMember
	RiskList         []RiskEpic
}

// BuildPMDashboard computes the PM dashboard over every non-archived Epic.
func (e *Engine) BuildPMDashboard(ctx context.Context) (*PMDashboard, error) {
	epics, err := e.store.ListEpics(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("report: pm dashboard: list epics: %w", err)
	}

	dash := &PMDashboard{}

	for _, epic := range epics {
		if !epic.PlannedCompletionDate.IsZero() {
			sv := ScheduleVariance{EpicID: epic.ID, Planned: epic.PlannedCompletionDate}
			if epic.Status == rtm.EpicStatusDone {
				sv.Actual = epic.UpdatedAt
				sv.HasVariance = true
				sv.VarianceDays = sv.Actual.Sub(sv.Planned).Hours() / 24
			}
			dash.ScheduleVariance = append(dash.ScheduleVariance, sv)
		}
	}

	velocity, err := e.velocityPerMember(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: pm dashboard: velocity: %w", err)
	}
	dash.Velocity = velocity

	risks, err := e.riskList(ctx, epics)
	if err != nil {
		return nil, fmt.Errorf("report: pm dashboard: risk list: %w", err)
	}
	dash.RiskList = risks

	return dash, nil
}

// velocityPerMember sums completed (done) story points per Assignee across
// all UserStories updated within the rolling window, divided by the window
// length in weeks.
func (e *Engine) velocityPerMember(ctx context.Context) ([]VelocityPerMember, error) {
	stories, err := e.store.ListUserStories(ctx, store.UserStoryFilter{})
	if err != nil {
		return nil, err
	}

	weeks := e.cfg.VelocityWindowWeeks
	if weeks <= 0 {
		weeks = 1
	}
	cutoff := e.windowCutoff(weeks)

	totals := make(map[string]int)
	for _, s := range stories {
		if !s.Status.IsDone() || s.Assignee == "" {
			continue
		}
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		totals[s.Assignee] += s.StoryPoints
	}

	var out []VelocityPerMember
	for assignee, points := range totals {
		out = append(out, VelocityPerMember{
			Assignee:    assignee,
			StoryPoints: points,
			PerWeek:     float64(points) / float64(weeks),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Assignee < out[j].Assignee })

	return out, nil
}

// windowCutoff is a seam so tests can control "now" without the engine
// depending on a wall-clock field; BuildPMDashboard's caller never needs to
// inject a clock, so this simply wraps time.Now rather than threading one
// through the constructor.
func (e *Engine) windowCutoff(weeks int) time.Time {
	return time.Now().AddDate(0, 0, -7*weeks)
}

// riskList flags Epics with an overdue critical-path predecessor, or with
// open-defect density (open defects / story points) above the median
// across all Epics — "rising" is interpreted as above-median since the
// source material gives no absolute threshold (§4.4.3).
func (e *Engine) riskList(ctx context.Context, epics []rtm.Epic) ([]RiskEpic, error) {
	defects, err := e.store.ListAllDefects(ctx)
	if err != nil {
		return nil, err
	}

	openByUserStory := make(map[string]int)
	for _, d := range defects {
		if d.Status.IsOpen() && d.UserStoryID != "" {
			openByUserStory[d.UserStoryID]++
		}
	}

	density := make(map[string]float64, len(epics))
	for _, epic := range epics {
		stories, err := e.store.ListUserStories(ctx, storyFilterForEpic(epic.ID))
		if err != nil {
			return nil, err
		}

		var points, openDefects int
		for _, s := range stories {
			points += s.StoryPoints
			openDefects += openByUserStory[s.ID]
		}
		if points > 0 {
			density[epic.ID] = float64(openDefects) / float64(points)
		}
	}

	median := medianOf(density)

	overdue := make(map[string]bool)
	for _, epic := range epics {
		if epic.Status == rtm.EpicStatusDone || epic.Status == rtm.EpicStatusCancelled {
			continue
		}
		path, err := e.CriticalPath(ctx, epic.ID)
		if err != nil {
			continue
		}
		for _, step := range path.Steps[:len(path.Steps)-1] {
			pred, err := e.store.GetEpic(ctx, step.EpicID)
			if err != nil {
				continue
			}
			if !pred.PlannedCompletionDate.IsZero() && pred.Status != rtm.EpicStatusDone &&
				time.Now().After(pred.PlannedCompletionDate) {
				overdue[epic.ID] = true
			}
		}
	}

	var out []RiskEpic
	for _, epic := range epics {
		d := density[epic.ID]
		if overdue[epic.ID] || d > median {
			out = append(out, RiskEpic{EpicID: epic.ID, OverduePred: overdue[epic.ID], DefectDensity: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpicID < out[j].EpicID })

	return out, nil
}

func medianOf(values map[string]float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		sorted = append(sorted, v)
	}
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// EpicROI is one Epic's ROI and adoption figures for the PO dashboard.
type EpicROI struct {
	EpicID   string
	ROI      float64 // ValueEstimate / CostEstimate, 0 if cost is 0
	Adoption float64
}

// PODashboard is the PO persona view-model (§4.4.3).
type PODashboard struct {
	ROI             []EpicROI
	CompletionTrend []EpicRollup
}

// BuildPODashboard computes the PO dashboard over every non-archived Epic.
func (e *Engine) BuildPODashboard(ctx context.Context) (*PODashboard, error) {
	epics, err := e.store.ListEpics(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("report: po dashboard: list epics: %w", err)
	}

	dash := &PODashboard{}

	for _, epic := range epics {
		roi := 0.0
		if epic.CostEstimate != 0 {
			roi = epic.ValueEstimate / epic.CostEstimate
		}
		dash.ROI = append(dash.ROI, EpicROI{EpicID: epic.ID, ROI: roi, Adoption: epic.AdoptionMetric})

		completion, err := e.epicCompletion(ctx, epic.ID)
		if err != nil {
			return nil, fmt.Errorf("report: po dashboard: epic completion %s: %w", epic.ID, err)
		}
		dash.CompletionTrend = append(dash.CompletionTrend, EpicRollup{EpicID: epic.ID, Completion: completion})
	}

	return dash, nil
}

// EpicCoverage is one Epic's Test-per-UserStory coverage figure for the QA
// dashboard.
type EpicCoverage struct {
	EpicID        string
	TestCount     int
	UserStories   int
	TestsPerUS    float64
	PassRate      Fraction
	DefectDensity float64 // open defects / story points
	TechDebtScore float64
}

// QADashboard is the QA persona view-model (§4.4.3).
type QADashboard struct {
	Coverage []EpicCoverage
}

// BuildQADashboard computes the QA dashboard over every non-archived Epic.
func (e *Engine) BuildQADashboard(ctx context.Context) (*QADashboard, error) {
	epics, err := e.store.ListEpics(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("report: qa dashboard: list epics: %w", err)
	}

	allDefects, err := e.store.ListAllDefects(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: qa dashboard: list defects: %w", err)
	}

	dash := &QADashboard{}

	for _, epic := range epics {
		stories, err := e.store.ListUserStories(ctx, storyFilterForEpic(epic.ID))
		if err != nil {
			return nil, fmt.Errorf("report: qa dashboard: user stories %s: %w", epic.ID, err)
		}

		var testCount, points, passed, failed, errored int
		var openDefects int
		storyIDs := make(map[string]struct{}, len(stories))
		for _, s := range stories {
			storyIDs[s.ID] = struct{}{}
			points += s.StoryPoints

			tests, err := e.store.ListTestsForUserStory(ctx, s.ID)
			if err != nil {
				return nil, fmt.Errorf("report: qa dashboard: tests %s: %w", s.ID, err)
			}
			testCount += len(tests)
			for _, t := range tests {
				if t.LastExecution == nil {
					continue
				}
				switch t.LastExecution.Status {
				case rtm.ExecutionStatusPassed, rtm.ExecutionStatusXPass:
					passed++
				case rtm.ExecutionStatusFailed:
					failed++
				case rtm.ExecutionStatusError:
					errored++
				}
			}
		}

		for _, d := range allDefects {
			if _, ok := storyIDs[d.UserStoryID]; ok && d.Status.IsOpen() {
				openDefects++
			}
		}

		coverage := EpicCoverage{
			EpicID:      epic.ID,
			TestCount:   testCount,
			UserStories: len(stories),
			PassRate:    Fraction{Numerator: passed, Denominator: passed + failed + errored},
		}
		if len(stories) > 0 {
			coverage.TestsPerUS = float64(testCount) / float64(len(stories))
		}
		if points > 0 {
			coverage.DefectDensity = float64(openDefects) / float64(points)
		}
		coverage.TechDebtScore = e.techDebtScore(epic.ID, allDefects, storyIDs)

		dash.Coverage = append(dash.Coverage, coverage)
	}

	return dash, nil
}

// techDebtScore is Σ weight[severity] × age_days over open Defects
// belonging to storyIDs (§4.4.3).
func (e *Engine) techDebtScore(_ string, defects []rtm.Defect, storyIDs map[string]struct{}) float64 {
	var score float64
	now := time.Now()
	for _, d := range defects {
		if _, ok := storyIDs[d.UserStoryID]; !ok || !d.Status.IsOpen() {
			continue
		}
		weight := e.cfg.TechDebtWeights[string(d.Severity)]
		ageDays := now.Sub(d.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score += weight * ageDays
	}
	return score
}
