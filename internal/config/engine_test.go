package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig_MapTrackerStatus(t *testing.T) {
	cfg := DefaultEngineConfig()

	status, ok := cfg.MapTrackerStatus("In Progress")
	assert.True(t, ok)
	assert.Equal(t, "in_progress", status)

	_, ok = cfg.MapTrackerStatus("nonexistent-label")
	assert.False(t, ok)
}

func TestDefaultEngineConfig_MapFailureSeverity(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, "high", string(cfg.MapFailureSeverity("assertion")))
	assert.Equal(t, "medium", string(cfg.MapFailureSeverity("unknown-category")))
}

func TestLoadEngineConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")

	err := os.WriteFile(path, []byte("recurrence_k: 5\nrecurrence_n: 5\n"), 0o600)
	require.NoError(t, err)

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RecurrenceK)
	assert.Equal(t, 5, cfg.RecurrenceN)
	assert.NotEmpty(t, cfg.StatusMapping, "unset fields keep the default value")
}

func TestLoadEngineConfig_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadEngineConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), cfg)
}
