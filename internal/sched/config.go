package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml. The values are fixed at boot.
type Config struct {
	CPUs        int    `yaml:"cpus"`         // 2 (by default), at most MaxCPUs
	TickMS      int    `yaml:"tick_ms"`      // 5 (by default), wall-clock tick of the simulated timer
	SliceTicks  int    `yaml:"slice_ticks"`  // 5 (by default), round-robin budget of every task
	MaxTasks    int    `yaml:"max_tasks"`    // 64 (by default), size of the task table
	StackOrder  uint   `yaml:"stack_order"`  // 4 (by default), kernel stack is 2^order pages
	StackBlocks int    `yaml:"stack_blocks"` // 64 (by default), blocks in the stack pool
	WorkQueue   int    `yaml:"work_queue"`   // 64 (by default), deferred cleanup ring
	EventBuffer int    `yaml:"event_buffer"` // 256 (by default), 0 disables the event stream
	LogLevel    string `yaml:"log_level"`    // info (by default)
	LogFormat   string `yaml:"log_format"`   // text (by default)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		CPUs:        2,
		TickMS:      5,
		SliceTicks:  5,
		MaxTasks:    64,
		StackOrder:  4,
		StackBlocks: 64,
		WorkQueue:   64,
		EventBuffer: 256,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only. A file that exists but does not parse is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp applies the sanity limits. Tasks need room for one idle task per core
// plus at least one ordinary task.
func (c *Config) clamp() {
	if c.CPUs <= 0 {
		c.CPUs = 1
	} else if c.CPUs > MaxCPUs {
		c.CPUs = MaxCPUs
	}
	if c.TickMS <= 0 {
		c.TickMS = 5
	}
	if c.SliceTicks <= 0 {
		c.SliceTicks = 5
	}
	if c.MaxTasks < c.CPUs+1 {
		c.MaxTasks = c.CPUs + 1
	}
	if c.StackBlocks < c.CPUs+1 {
		c.StackBlocks = c.CPUs + 1
	}
	if c.WorkQueue <= 0 {
		c.WorkQueue = 64
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}
