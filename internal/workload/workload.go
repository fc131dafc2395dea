// Package workload loads a YAML description of semaphores, pipes and task
// programs and instantiates it on a kernel.
package workload

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	yaml "github.com/goccy/go-yaml"

	"ksched/internal/job"
	"ksched/internal/mem"
	"ksched/internal/pipe"
	"ksched/internal/sched"
)

// File mirrors workload.yml.
type File struct {
	Name       string      `yaml:"name"`
	Semaphores []Semaphore `yaml:"semaphores"`
	Pipes      []Pipe      `yaml:"pipes"`
	Tasks      []Task      `yaml:"tasks"`
}

type Semaphore struct {
	Name  string `yaml:"name"`
	Limit int    `yaml:"limit"`
	Count int    `yaml:"count"`
}

type Pipe struct {
	Name  string `yaml:"name"`
	Pages int    `yaml:"pages"` // 16 (by default)
}

type Task struct {
	Name      string `yaml:"name"`
	Priority  *int   `yaml:"priority"` // normal (by default)
	Affinity  []int  `yaml:"affinity"` // any core (by default)
	Instances int    `yaml:"instances"`
	Repeat    int    `yaml:"repeat"`
	Steps     []Step `yaml:"steps"`
}

type Step struct {
	Op      string `yaml:"op"`
	Ticks   int    `yaml:"ticks"`
	Loops   int    `yaml:"loops"`
	Timeout *int   `yaml:"timeout"` // forever (by default)
	Sem     string `yaml:"sem"`
	Pipe    string `yaml:"pipe"`
	Data    string `yaml:"data"`
	Size    int    `yaml:"size"`
}

// Load reads and validates a workload file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	return Parse(data)
}

// Parse decodes a workload, rejecting unknown fields.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	sems := map[string]bool{}
	for _, s := range f.Semaphores {
		if s.Name == "" || sems[s.Name] {
			return fmt.Errorf("semaphore %q: name missing or repeated", s.Name)
		}
		if s.Limit < 1 || s.Count < 0 || s.Count > s.Limit {
			return fmt.Errorf("semaphore %q: need 0 <= count <= limit and limit >= 1", s.Name)
		}
		sems[s.Name] = true
	}
	pipes := map[string]bool{}
	for _, p := range f.Pipes {
		if p.Name == "" || pipes[p.Name] {
			return fmt.Errorf("pipe %q: name missing or repeated", p.Name)
		}
		if p.Pages < 0 {
			return fmt.Errorf("pipe %q: negative page count", p.Name)
		}
		pipes[p.Name] = true
	}
	if len(f.Tasks) == 0 {
		return fmt.Errorf("workload %q has no tasks", f.Name)
	}
	for _, t := range f.Tasks {
		if t.Priority != nil && (*t.Priority < sched.MinPriority || *t.Priority > sched.MaxPriority) {
			return fmt.Errorf("task %q: priority %d outside [%d, %d]", t.Name, *t.Priority, sched.MinPriority, sched.MaxPriority)
		}
		for _, cpu := range t.Affinity {
			if cpu < 0 || cpu >= sched.MaxCPUs {
				return fmt.Errorf("task %q: bad cpu %d in affinity", t.Name, cpu)
			}
		}
		for i, s := range t.Steps {
			if err := s.validate(sems, pipes); err != nil {
				return fmt.Errorf("task %q step %d: %w", t.Name, i, err)
			}
		}
	}
	return nil
}

func (s *Step) validate(sems, pipes map[string]bool) error {
	op, err := job.ParseOp(s.Op)
	if err != nil {
		return err
	}
	switch op {
	case job.OpTake, job.OpGive:
		if !sems[s.Sem] {
			return fmt.Errorf("%s: unknown semaphore %q", s.Op, s.Sem)
		}
	case job.OpWrite, job.OpRead:
		if !pipes[s.Pipe] {
			return fmt.Errorf("%s: unknown pipe %q", s.Op, s.Pipe)
		}
	case job.OpSpin, job.OpSleep:
		if s.Ticks < 0 {
			return fmt.Errorf("%s: negative ticks", s.Op)
		}
	}
	return nil
}

// Instance is a workload bound to a kernel.
type Instance struct {
	Process    *sched.Process
	Programs   []*job.Program
	Tasks      []*sched.Task
	Semaphores map[string]*sched.Semaphore
	Pipes      map[string]*pipe.Pipe
}

// Starter resumes a task from outside the kernel. *machine.Machine
// satisfies it.
type Starter interface {
	Start(ctx context.Context, t *sched.Task) error
}

// pipeBase is the first page frame handed to pipe pools, well above the
// kernel stacks.
const pipeBase mem.PFN = 0x40000

// Build creates every object of f on k. Tasks are left suspended.
func (f *File) Build(k *sched.Kernel, cp job.Checkpointer, log *slog.Logger) (*Instance, error) {
	inst := &Instance{
		Process:    k.NewProcess(f.Name),
		Semaphores: make(map[string]*sched.Semaphore, len(f.Semaphores)),
		Pipes:      make(map[string]*pipe.Pipe, len(f.Pipes)),
	}
	for _, s := range f.Semaphores {
		inst.Semaphores[s.Name] = k.NewSemaphore(s.Limit, s.Count)
	}
	base := pipeBase
	for _, p := range f.Pipes {
		pages := p.Pages
		if pages == 0 {
			pages = 16
		}
		pool, err := mem.NewPool(base, 0, pages)
		if err != nil {
			return nil, fmt.Errorf("pipe %q: %w", p.Name, err)
		}
		base += mem.PFN(pages)
		inst.Pipes[p.Name] = pipe.New(k, pool)
	}

	for _, t := range f.Tasks {
		prog := &job.Program{Name: t.Name, Repeat: t.Repeat, Stats: &job.Stats{}}
		for _, s := range t.Steps {
			prog.Steps = append(prog.Steps, inst.step(s))
		}
		inst.Programs = append(inst.Programs, prog)

		pri := sched.PriorityNormal
		if t.Priority != nil {
			pri = *t.Priority
		}
		aff := sched.CPUs(t.Affinity...)
		if aff != 0 && aff&sched.FirstCPUs(k.Active()) == 0 {
			return nil, fmt.Errorf("task %q: affinity %v names no active core", t.Name, t.Affinity)
		}
		entry := prog.Entry(k, cp, log)
		for i := 0; i < max(t.Instances, 1); i++ {
			task, err := inst.Process.Spawn(pri, aff, entry)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", t.Name, err)
			}
			task.SetTag(fmt.Sprintf("%s#%d", t.Name, i))
			inst.Tasks = append(inst.Tasks, task)
		}
	}
	log.Info("workload built", "name", f.Name, "tasks", len(inst.Tasks),
		"semaphores", len(inst.Semaphores), "pipes", len(inst.Pipes))
	return inst, nil
}

// step resolves one validated step.
func (inst *Instance) step(s Step) job.Step {
	op, _ := job.ParseOp(s.Op)
	timeout := sched.WaitForever
	if s.Timeout != nil {
		timeout = *s.Timeout
	}
	return job.Step{
		Op:      op,
		Ticks:   s.Ticks,
		Loops:   s.Loops,
		Timeout: timeout,
		Sem:     inst.Semaphores[s.Sem],
		Pipe:    inst.Pipes[s.Pipe],
		Data:    []byte(s.Data),
		Size:    s.Size,
	}
}

// Start resumes every task.
func (inst *Instance) Start(ctx context.Context, s Starter) error {
	for _, t := range inst.Tasks {
		if err := s.Start(ctx, t); err != nil {
			return fmt.Errorf("start %s: %w", t.Tag(), err)
		}
	}
	return nil
}
