package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkload = `
name: cli
semaphores:
  - {name: items, limit: 4, count: 0}
tasks:
  - name: producer
    priority: 20
    repeat: 3
    steps:
      - {op: give, sem: items}
      - {op: yield}
  - name: consumer
    priority: 10
    repeat: 3
    steps:
      - {op: take, sem: items}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigCommandPrintsDefaults(t *testing.T) {
	out, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Contains(t, out, "cpus: 2")
	assert.Contains(t, out, "slice_ticks: 5")
}

func TestConfigCommandFlagOverridesLevel(t *testing.T) {
	cfg := writeFile(t, "config.yml", "cpus: 3\nlog_level: debug\n")
	out, err := execute(t, "config", "--config", cfg, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "cpus: 3")
	assert.Contains(t, out, "log_level: error")
}

func TestBadLogFormat(t *testing.T) {
	_, err := execute(t, "config", "--config", "", "--log-format", "xml")
	assert.Error(t, err)
}

func TestRunWorkloadToCompletion(t *testing.T) {
	cfg := writeFile(t, "config.yml", "cpus: 2\ntick_ms: 1\nlog_level: error\n")
	wl := writeFile(t, "workload.yml", testWorkload)
	csvPath := filepath.Join(t.TempDir(), "events.csv")

	out, err := execute(t, "run", "--config", cfg, "--workload", wl, "--ticks", "0", "--quiet", "--csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "finished=true")
	assert.Contains(t, out, "producer")
	assert.Contains(t, out, "consumer")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("tick,cpu,event,task_id,priority,state\n")))
}

func TestRunTickLimit(t *testing.T) {
	cfg := writeFile(t, "config.yml", "cpus: 1\ntick_ms: 1\nlog_level: error\n")
	wl := writeFile(t, "workload.yml", "name: stuck\nsemaphores: [{name: s, limit: 1, count: 0}]\ntasks: [{name: waiter, steps: [{op: take, sem: s}]}]\n")

	out, err := execute(t, "run", "--config", cfg, "--workload", wl, "--ticks", "20", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "finished=false")
}

func TestRunMissingWorkload(t *testing.T) {
	_, err := execute(t, "run", "--config", "", "--workload", filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
