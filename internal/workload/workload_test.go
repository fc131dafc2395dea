package workload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ksched/internal/job"
	"ksched/internal/logging"
	"ksched/internal/machine"
	"ksched/internal/mem"
	"ksched/internal/sched"
)

const sample = `
name: sample
semaphores:
  - {name: items, limit: 8, count: 0}
pipes:
  - {name: log, pages: 2}
tasks:
  - name: producer
    priority: 20
    affinity: [0]
    repeat: 5
    steps:
      - {op: give, sem: items}
      - {op: write, pipe: log, data: "ab"}
      - {op: yield}
  - name: consumer
    priority: 10
    repeat: 5
    steps:
      - {op: take, sem: items}
      - {op: read, pipe: log, size: 2}
`

func TestParseSample(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "sample", f.Name)
	require.Len(t, f.Tasks, 2)
	assert.Equal(t, []int{0}, f.Tasks[0].Affinity)
	assert.Nil(t, f.Tasks[1].Steps[0].Timeout)
	assert.Equal(t, 2, f.Pipes[0].Pages)
}

func TestParseRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown field":     "name: x\ncolour: red\ntasks: [{name: a, steps: [{op: yield}]}]\n",
		"no tasks":          "name: x\n",
		"unknown op":        "tasks: [{name: a, steps: [{op: fly}]}]\n",
		"unknown semaphore": "tasks: [{name: a, steps: [{op: take, sem: nope}]}]\n",
		"unknown pipe":      "tasks: [{name: a, steps: [{op: read, pipe: nope}]}]\n",
		"idle priority":     "tasks: [{name: a, priority: 31, steps: [{op: yield}]}]\n",
		"bad bounds":        "semaphores: [{name: s, limit: 1, count: 2}]\ntasks: [{name: a, steps: [{op: yield}]}]\n",
		"repeated name":     "semaphores: [{name: s, limit: 1}, {name: s, limit: 1}]\ntasks: [{name: a, steps: [{op: yield}]}]\n",
		"bad cpu":           "tasks: [{name: a, affinity: [99], steps: [{op: yield}]}]\n",
	} {
		_, err := Parse([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestLoadExampleWorkload(t *testing.T) {
	f, err := Load(filepath.Join("..", "..", "configs", "workload.yml"))
	require.NoError(t, err)
	assert.NotEmpty(t, f.Tasks)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildAndRun(t *testing.T) {
	cfg := sched.DefaultConfig()
	cfg.EventBuffer = 0
	stacks, err := mem.NewPool(0x1000, cfg.StackOrder, cfg.StackBlocks)
	require.NoError(t, err)
	m := machine.New(cfg.CPUs, logging.Discard())
	k, err := sched.New(cfg, m, stacks, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, m.Boot(k))
	t.Cleanup(m.Stop)

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	inst, err := f.Build(k, m, logging.Discard())
	require.NoError(t, err)
	require.Len(t, inst.Tasks, 2)
	assert.Equal(t, "producer#0", inst.Tasks[0].Tag())
	assert.Equal(t, sched.CPUs(0), inst.Tasks[0].Affinity())
	assert.Equal(t, 20, inst.Tasks[0].Priority())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, inst.Start(ctx, m))

	select {
	case <-inst.Process.Done():
	case <-ctx.Done():
		t.Fatal("workload did not finish")
	}
	byName := map[string]*job.Program{}
	for _, p := range inst.Programs {
		byName[p.Name] = p
	}
	assert.Equal(t, int64(5), byName["producer"].Stats.Given.Load())
	assert.Equal(t, int64(10), byName["producer"].Stats.Written.Load())
	assert.Equal(t, int64(5), byName["consumer"].Stats.Taken.Load())
	assert.Equal(t, int64(5), byName["consumer"].Stats.Runs.Load())
}
