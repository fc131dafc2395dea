package sched

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
cpus: 4
tick_ms: 2
slice_ticks: 3
log_level: debug
log_format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.CPUs = 4
	want.TickMS = 2
	want.SliceTicks = 3
	want.LogLevel = "debug"
	want.LogFormat = "json"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadClamps(t *testing.T) {
	path := writeConfig(t, `
cpus: 200
slice_ticks: -1
max_tasks: 1
stack_blocks: 0
event_buffer: -5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, MaxCPUs, cfg.CPUs)
	assert.Equal(t, 5, cfg.SliceTicks)
	assert.Equal(t, MaxCPUs+1, cfg.MaxTasks)
	assert.Equal(t, MaxCPUs+1, cfg.StackBlocks)
	assert.Zero(t, cfg.EventBuffer)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "cpus: [1, 2\n")
	_, err := Load(path)
	assert.Error(t, err)
}
