package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gonogo/rtm/internal/rtm"
)

// EngineConfig is the explicit configuration record threaded into every
// component at construction — the replacement for a global configuration
// singleton (§9 Design Notes). It holds the status-mapping table, the
// category-to-severity map, the recurrence thresholds (K, N), the
// retention count (M), cache bounds, and retry budgets.
type EngineConfig struct {
	// StatusMapping maps a tracker status label (lowercased) to the
	// UserStory/Defect status it mirrors to. Required input (§9 Open
	// Questions): the source material never enumerates which tracker
	// labels map to which status, so this table has no hardcoded default
	// beyond the minimal one returned by DefaultEngineConfig.
	StatusMapping map[string]string `yaml:"status_mapping"`

	// SeverityMapping maps a failure category (assertion, timeout,
	// resource, flaky, integration) to the DefectSeverity assigned on
	// auto-creation (§4.3). Required input; DefaultEngineConfig supplies
	// a documented default since none is enumerated in the source
	// material (§9 Open Questions).
	SeverityMapping map[string]string `yaml:"severity_mapping"`

	// RecurrenceN is the window of most-recent outcomes examined for
	// auto-Defect escalation (§4.3 step 1). Default 3.
	RecurrenceN int `yaml:"recurrence_n"`

	// RecurrenceK is the minimum count within RecurrenceN sharing failure
	// category and digest that triggers escalation (§4.3 step 2). Default 3.
	RecurrenceK int `yaml:"recurrence_k"`

	// ExecutionRetention (M) is the number of most-recent execution
	// records kept in full detail per Test; older ones are summarized and
	// pruned (§4.5 Retention). Default 50.
	ExecutionRetention int `yaml:"execution_retention"`

	// CacheMaxEntries bounds the Query Engine's rollup cache (§4.4.4).
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// SyncRetryBudget bounds the number of retry attempts per page during
	// tracker synchronization (§4.2 Failure semantics).
	SyncRetryBudget int `yaml:"sync_retry_budget"`

	// SyncPerRequestDeadline bounds a single tracker HTTP call.
	SyncPerRequestDeadline time.Duration `yaml:"sync_per_request_deadline"`

	// SyncOverallBudget bounds an entire sync_full/sync_incremental run.
	SyncOverallBudget time.Duration `yaml:"sync_overall_budget"`

	// VelocityWindowWeeks is the rolling window for the PM dashboard's
	// velocity-per-member metric (§4.4.3).
	VelocityWindowWeeks int `yaml:"velocity_window_weeks"`

	// VelocityAttribution selects the source of truth for attributing
	// story points to a person for the velocity metric (§9 Open
	// Questions: not specified in the source material). Recognized
	// values: "tracker_assignee" (default), "commit_author", "annotation".
	VelocityAttribution string `yaml:"velocity_attribution"`

	// TechDebtWeights weighs open-defect severity for the QA dashboard's
	// technical debt score (§4.4.3): score = Σ weight[severity] × age_days.
	TechDebtWeights map[string]float64 `yaml:"tech_debt_weights"`
}

// DefaultEngineConfig returns the documented default configuration. Callers
// should override StatusMapping and SeverityMapping for their tracker; the
// defaults here exist so the engine is runnable out of the box, not because
// the source material specifies them (§9 Open Questions).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StatusMapping: map[string]string{
			"open":         string(rtm.UserStoryStatusPlanned),
			"backlog":      string(rtm.UserStoryStatusPlanned),
			"planned":      string(rtm.UserStoryStatusPlanned),
			"in progress":  string(rtm.UserStoryStatusInProgress),
			"in review":    string(rtm.UserStoryStatusInReview),
			"done":         string(rtm.UserStoryStatusDone),
			"closed":       string(rtm.UserStoryStatusDone),
			"blocked":      string(rtm.UserStoryStatusBlocked),
			"cancelled":    string(rtm.UserStoryStatusCancelled),
			"won't fix":    string(rtm.DefectStatusWontfix),
			"wontfix":      string(rtm.DefectStatusWontfix),
			"triaged":      string(rtm.DefectStatusTriaged),
			"resolved":     string(rtm.DefectStatusResolved),
		},
		SeverityMapping: map[string]string{
			"assertion":   string(rtm.DefectSeverityHigh),
			"timeout":     string(rtm.DefectSeverityMedium),
			"resource":    string(rtm.DefectSeverityMedium),
			"flaky":       string(rtm.DefectSeverityLow),
			"integration": string(rtm.DefectSeverityHigh),
		},
		RecurrenceN:            3,
		RecurrenceK:            3,
		ExecutionRetention:     50,
		CacheMaxEntries:        10_000,
		SyncRetryBudget:        5,
		SyncPerRequestDeadline: 10 * time.Second,
		SyncOverallBudget:      5 * time.Minute,
		VelocityWindowWeeks:    4,
		VelocityAttribution:    "tracker_assignee",
		TechDebtWeights: map[string]float64{
			string(rtm.DefectSeverityCritical): 8,
			string(rtm.DefectSeverityHigh):     4,
			string(rtm.DefectSeverityMedium):   2,
			string(rtm.DefectSeverityLow):      1,
		},
	}
}

// LoadEngineConfig reads an EngineConfig from a YAML file, falling back to
// DefaultEngineConfig for any field the file omits at the top level. Pass
// an empty path to get the default unmodified. Environment variables never
// override these tables — status/severity mappings and thresholds are
// read-mostly configuration that requires a restart to change (§5 Shared-
// resource policy), not per-deploy env knobs like ServerConfig's.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("engine config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("engine config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// MapTrackerStatus maps a tracker status label to an engine status string.
// Returns ok=false when the label is unrecognized (§4.2 Mapping contract:
// "unknown labels leave status unchanged and are reported").
func (c EngineConfig) MapTrackerStatus(label string) (status string, ok bool) {
	status, ok = c.StatusMapping[strings.ToLower(strings.TrimSpace(label))]
	return status, ok
}

// MapFailureSeverity maps a failure category to a DefectSeverity, defaulting
// to medium when the category is not present in the table.
func (c EngineConfig) MapFailureSeverity(category string) rtm.DefectSeverity {
	if v, ok := c.SeverityMapping[category]; ok {
		return rtm.DefectSeverity(v)
	}
	return rtm.DefectSeverityMedium
}
