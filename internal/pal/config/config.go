// Package config loads the scheduler and allocator configuration
// embedders use to size pools and host-memory limits: a
// defaults-then-overlay-then-env load sequence with a YAML file format
// (gopkg.in/yaml.v3) whose fields describe pool directories and
// allocator size classes. DefaultConfig builds the baseline, then
// LoadFromFile overlays a YAML document onto it, then LoadFromEnv
// applies a short list of environment overrides.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PoolTypeConfig describes one group of same-typed task pools.
type PoolTypeConfig struct {
	Type           string `yaml:"type"` // "main", "cpu_worker", "aio_worker", "user"
	Count          int    `yaml:"count"`
	MaxSlots       int    `yaml:"max_slots"`
	PreCommitTasks int    `yaml:"precommit_tasks"`
}

// SchedulerConfig configures Scheduler.Create's pool directory.
type SchedulerConfig struct {
	Pools        []PoolTypeConfig `yaml:"pools"`
	MaxStealList int              `yaml:"max_steal_list"`
}

// HostMemoryConfig bounds a hostmem.Pool's total commitment.
type HostMemoryConfig struct {
	MaxTotalCommitmentBytes uint64 `yaml:"max_total_commitment_bytes"`
}

// BuddySizeClass configures one buddy.Allocator instance.
type BuddySizeClass struct {
	Name        string `yaml:"name"`
	MinLevel    int    `yaml:"min_level"`
	TotalLevels int    `yaml:"total_levels"`
}

// AllocatorConfig configures the host-memory pool and buddy size
// classes PAL allocators are built from.
type AllocatorConfig struct {
	HostMemory  HostMemoryConfig `yaml:"host_memory"`
	BuddyClasses []BuddySizeClass `yaml:"buddy_classes"`
}

// Config is the root document: scheduler pool directory plus allocator
// sizing, loaded from a single YAML file.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Allocator AllocatorConfig `yaml:"allocator"`
}

// DefaultConfig returns a Config with the same shape a freshly started
// embedder would want: one main pool, one CPU worker per configured
// count, and a single default buddy size class.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Pools: []PoolTypeConfig{
				{Type: "main", Count: 1, MaxSlots: 1024, PreCommitTasks: 0},
				{Type: "cpu_worker", Count: 4, MaxSlots: 4096, PreCommitTasks: 1024},
			},
			MaxStealList: 4,
		},
		Allocator: AllocatorConfig{
			HostMemory: HostMemoryConfig{
				MaxTotalCommitmentBytes: 1 << 30, // 1 GiB
			},
			BuddyClasses: []BuddySizeClass{
				{Name: "default", MinLevel: 6, TotalLevels: 20}, // 64B .. 32MiB
			},
		},
	}
}

// LoadFromFile loads a Config from a YAML file, overlaying it onto
// DefaultConfig so an embedder's file only needs to name the fields it
// wants to change.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies the small set of PAL_*-prefixed environment
// overrides this module recognizes.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PAL_SCHEDULER_MAX_STEAL_LIST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxStealList = n
		}
	}
	if v := os.Getenv("PAL_HOSTMEM_MAX_TOTAL_COMMITMENT_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Allocator.HostMemory.MaxTotalCommitmentBytes = n
		}
	}
}
