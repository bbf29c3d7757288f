// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration: file loading (YAML or JSON), defaults, validation
// and a thread-safe store that propagates reloads to listeners.

package control

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/scheduler"
)

// Config is the file representation of a runtime pool.
type Config struct {
	// Workers is the number of worker threads; zero means one per
	// available PU.
	Workers        int             `yaml:"workers" json:"workers"`
	Name           string          `yaml:"name" json:"name"`
	Strategy       string          `yaml:"strategy" json:"strategy"`
	UseProcessMask bool            `yaml:"use_process_mask" json:"use_process_mask"`
	UsedCores      int             `yaml:"used_cores" json:"used_cores"`
	MaxCores       int             `yaml:"max_cores" json:"max_cores"`
	BindThreads    bool            `yaml:"bind_threads" json:"bind_threads"`
	Scheduler      SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Stacks         StackConfig     `yaml:"stacks" json:"stacks"`
}

// SchedulerConfig holds mode flags and queue parameters.
type SchedulerConfig struct {
	IdleBackoff        bool   `yaml:"idle_backoff" json:"idle_backoff"`
	MaxIdleBackoff     string `yaml:"max_idle_backoff" json:"max_idle_backoff"`
	Elasticity         bool   `yaml:"elasticity" json:"elasticity"`
	FastIdle           bool   `yaml:"fast_idle" json:"fast_idle"`
	StealLocalFirst    bool   `yaml:"steal_local_first" json:"steal_local_first"`
	DelayExit          bool   `yaml:"delay_exit" json:"delay_exit"`
	MinTasksToSteal    int    `yaml:"min_tasks_to_steal" json:"min_tasks_to_steal"`
	MaxThreadCount     int    `yaml:"max_thread_count" json:"max_thread_count"`
	MaxTerminatedTasks int    `yaml:"max_terminated_tasks" json:"max_terminated_tasks"`
	ShutdownTimeout    string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// StackConfig holds stack sizes in bytes per class.
type StackConfig struct {
	Small  int `yaml:"small" json:"small"`
	Medium int `yaml:"medium" json:"medium"`
	Large  int `yaml:"large" json:"large"`
	Huge   int `yaml:"huge" json:"huge"`
}

// DefaultConfig returns a balanced, idle-backoff pool using every PU.
func DefaultConfig() Config {
	p := scheduler.DefaultParams()
	return Config{
		Name:     "default",
		Strategy: affinity.Balanced.String(),
		Scheduler: SchedulerConfig{
			IdleBackoff:        true,
			MaxIdleBackoff:     p.MaxIdleBackoff.String(),
			DelayExit:          true,
			StealLocalFirst:    true,
			MinTasksToSteal:    p.MinTasksToStealPending,
			MaxThreadCount:     p.MaxThreadCount,
			MaxTerminatedTasks: p.MaxTerminatedTasks,
			ShutdownTimeout:    "30s",
		},
		Stacks: StackConfig{
			Small:  p.StackSizes[api.StackSmall],
			Medium: p.StackSizes[api.StackMedium],
			Large:  p.StackSizes[api.StackLarge],
			Huge:   p.StackSizes[api.StackHuge],
		},
	}
}

// LoadFile reads a config file from fs. Fields missing from the file keep
// their defaults.
func LoadFile(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, api.NewError(api.ErrCodeConfiguration, "failed to parse YAML").WithCause(err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, api.NewError(api.ErrCodeConfiguration, "failed to parse JSON").WithCause(err)
		}
	default:
		return nil, api.Errorf(api.ErrCodeConfiguration, "unsupported config format: %s", ext)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	klog.V(2).InfoS("loaded config", "path", path, "workers", cfg.Workers, "strategy", cfg.Strategy)
	return &cfg, nil
}

// Validate checks the config without touching the hardware.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return api.Errorf(api.ErrCodeConfiguration, "workers must be non-negative, got %d", c.Workers)
	}
	if c.UsedCores < 0 || c.MaxCores < 0 {
		return api.NewError(api.ErrCodeConfiguration, "used_cores and max_cores must be non-negative")
	}
	if _, err := c.PlacementStrategy(); err != nil {
		return err
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	return nil
}

// PlacementStrategy parses the strategy name.
func (c Config) PlacementStrategy() (affinity.Strategy, error) {
	return affinity.ParseStrategy(c.Strategy)
}

// PlanOptions returns the planner constraints.
func (c Config) PlanOptions() affinity.Options {
	return affinity.Options{
		UseProcessMask: c.UseProcessMask,
		UsedCores:      c.UsedCores,
		MaxCores:       c.MaxCores,
	}
}

// Mode returns the scheduler mode flags.
func (c Config) Mode() api.SchedulerMode {
	mode := api.ModeNothingSpecial
	flags := []struct {
		on   bool
		flag api.SchedulerMode
	}{
		{c.Scheduler.IdleBackoff, api.ModeIdleBackoff},
		{c.Scheduler.Elasticity, api.ModeElasticity},
		{c.Scheduler.FastIdle, api.ModeFastIdle},
		{c.Scheduler.StealLocalFirst, api.ModeStealHighPriorityFirst},
		{c.Scheduler.DelayExit, api.ModeDelayExit},
	}
	for _, f := range flags {
		if f.on {
			mode |= f.flag
		}
	}
	return mode
}

// Params converts the config to scheduler parameters.
func (c Config) Params() (scheduler.Params, error) {
	p := scheduler.DefaultParams()
	if c.Scheduler.MaxIdleBackoff != "" {
		d, err := time.ParseDuration(c.Scheduler.MaxIdleBackoff)
		if err != nil {
			return p, api.NewError(api.ErrCodeConfiguration, "invalid max_idle_backoff").WithCause(err)
		}
		p.MaxIdleBackoff = d
	}
	if c.Scheduler.MaxThreadCount != 0 {
		p.MaxThreadCount = c.Scheduler.MaxThreadCount
	}
	if c.Scheduler.MaxTerminatedTasks != 0 {
		p.MaxTerminatedTasks = c.Scheduler.MaxTerminatedTasks
	}
	p.MinTasksToStealPending = c.Scheduler.MinTasksToSteal

	sizes := []struct {
		class api.StackSize
		size  int
	}{
		{api.StackSmall, c.Stacks.Small},
		{api.StackMedium, c.Stacks.Medium},
		{api.StackLarge, c.Stacks.Large},
		{api.StackHuge, c.Stacks.Huge},
	}
	for _, s := range sizes {
		if s.size != 0 {
			p.StackSizes[s.class] = s.size
		}
	}
	return p, p.Validate()
}

// ShutdownTimeout parses the shutdown timeout; empty means 30s.
func (c Config) ShutdownTimeout() (time.Duration, error) {
	if c.Scheduler.ShutdownTimeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Scheduler.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 0, api.Errorf(api.ErrCodeConfiguration, "invalid shutdown_timeout %q", c.Scheduler.ShutdownTimeout)
	}
	return d, nil
}

// ToMap returns the config as a generic map keyed by file field names.
func (c Config) ToMap() map[string]any {
	raw, _ := json.Marshal(c)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// Merge returns a copy of c with the given fields overridden. Nested
// sections merge key by key.
func (c Config) Merge(values map[string]any) (Config, error) {
	merged := mergeMaps(c.ToMap(), values)
	raw, err := json.Marshal(merged)
	if err != nil {
		return c, api.NewError(api.ErrCodeConfiguration, "failed to encode config").WithCause(err)
	}
	var out Config
	if err := json.Unmarshal(raw, &out); err != nil {
		return c, api.NewError(api.ErrCodeConfiguration, "failed to decode config").WithCause(err)
	}
	return out, nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// ConfigStore holds the active config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(old, new Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Get returns the active config.
func (cs *ConfigStore) Get() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set validates and installs cfg, then invokes all listeners in
// registration order before returning.
func (cs *ConfigStore) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.config
	cs.config = cfg
	listeners := append([]func(old, new Config){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}

// Update merges values into the active config and installs the result.
func (cs *ConfigStore) Update(values map[string]any) error {
	next, err := cs.Get().Merge(values)
	if err != nil {
		return err
	}
	return cs.Set(next)
}

// OnReload registers a listener called after every Set.
func (cs *ConfigStore) OnReload(fn func(old, new Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
