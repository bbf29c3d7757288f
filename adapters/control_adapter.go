// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives.

package adapters

import (
	"sync"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
)

type ControlAdapter struct {
	config *control.ConfigStore
	debug  *control.DebugProbes

	mu    sync.RWMutex
	stats map[string]func() map[string]int64
}

var _ api.Control = (*ControlAdapter)(nil)
var _ api.Debug = (*ControlAdapter)(nil)

func NewControlAdapter(store *control.ConfigStore, probes *control.DebugProbes) *ControlAdapter {
	if store == nil {
		store = control.NewConfigStore(control.DefaultConfig())
	}
	if probes == nil {
		probes = control.NewDebugProbes()
	}
	adapter := &ControlAdapter{
		config: store,
		debug:  probes,
		stats:  make(map[string]func() map[string]int64),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.Get().ToMap()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	return c.config.Update(cfg)
}

// AddStatsSource registers counters reported under prefix by Stats.
func (c *ControlAdapter) AddStatsSource(prefix string, fn func() map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[prefix] = fn
}

func (c *ControlAdapter) Stats() map[string]any {
	c.mu.RLock()
	sources := make(map[string]func() map[string]int64, len(c.stats))
	for k, fn := range c.stats {
		sources[k] = fn
	}
	c.mu.RUnlock()

	combined := make(map[string]any)
	for prefix, fn := range sources {
		for k, v := range fn() {
			combined[prefix+"."+k] = v
		}
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(func(_, _ control.Config) { fn() })
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

func (c *ControlAdapter) RegisterProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

func (c *ControlAdapter) DumpState() map[string]any {
	return c.debug.DumpState()
}
