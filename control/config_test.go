// control/config_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoadFileYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/rt.yaml", `
workers: 4
name: tensor
strategy: numa-balanced
use_process_mask: true
scheduler:
  idle_backoff: true
  max_idle_backoff: 250ms
  elasticity: true
  delay_exit: false
  min_tasks_to_steal: 2
stacks:
  small: 16384
`)
	cfg, err := LoadFile(fs, "/etc/rt.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "tensor", cfg.Name)
	strategy, err := cfg.PlacementStrategy()
	require.NoError(t, err)
	assert.Equal(t, affinity.NumaBalanced, strategy)
	assert.True(t, cfg.PlanOptions().UseProcessMask)

	assert.Equal(t, api.ModeIdleBackoff|api.ModeElasticity|api.ModeStealHighPriorityFirst, cfg.Mode())

	params, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, params.MaxIdleBackoff)
	assert.Equal(t, 2, params.MinTasksToStealPending)
	assert.Equal(t, 16384, params.StackSize(api.StackSmall))
	assert.Equal(t, DefaultConfig().Stacks.Huge, params.StackSize(api.StackHuge))
}

func TestLoadFileJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/rt.json", `{"workers": 2, "strategy": "scatter", "used_cores": 1, "max_cores": 2}`)

	cfg, err := LoadFile(fs, "/rt.json")
	require.NoError(t, err)
	assert.Equal(t, affinity.Options{UsedCores: 1, MaxCores: 2}, cfg.PlanOptions())
	assert.True(t, cfg.Mode().Has(api.ModeIdleBackoff), "defaults survive partial files")
}

func TestLoadFileErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/rt.toml", `workers = 2`)
	writeFile(t, fs, "/bad-strategy.yaml", `strategy: diagonal`)
	writeFile(t, fs, "/bad-backoff.yaml", "scheduler:\n  max_idle_backoff: soon\n")
	writeFile(t, fs, "/broken.json", `{"workers": `)

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: "/nope.yaml"},
		{name: "unsupported format", path: "/rt.toml"},
		{name: "unknown strategy", path: "/bad-strategy.yaml"},
		{name: "bad duration", path: "/bad-backoff.yaml"},
		{name: "broken json", path: "/broken.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(fs, tt.path)
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(fs, "/bad-strategy.yaml")
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestConfigMerge(t *testing.T) {
	cfg := DefaultConfig()
	merged, err := cfg.Merge(map[string]any{
		"workers":   8,
		"scheduler": map[string]any{"elasticity": true},
	})
	require.NoError(t, err)

	assert.Equal(t, 8, merged.Workers)
	assert.True(t, merged.Scheduler.Elasticity)
	assert.True(t, merged.Scheduler.IdleBackoff, "untouched nested keys are kept")
	assert.Equal(t, cfg.Stacks, merged.Stacks)
	assert.Equal(t, 0, cfg.Workers, "merge does not modify the receiver")
}

func TestConfigStoreNotifiesListeners(t *testing.T) {
	store := NewConfigStore(DefaultConfig())

	var calls []api.SchedulerMode
	store.OnReload(func(old, new Config) {
		calls = append(calls, old.Mode(), new.Mode())
	})

	require.NoError(t, store.Update(map[string]any{
		"scheduler": map[string]any{"fast_idle": true},
	}))
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Has(api.ModeFastIdle))
	assert.True(t, calls[1].Has(api.ModeFastIdle))
	assert.True(t, store.Get().Scheduler.FastIdle)

	err := store.Update(map[string]any{"strategy": "nowhere"})
	assert.True(t, errors.Is(err, api.ErrConfiguration))
	assert.Len(t, calls, 2, "rejected configs are not propagated")
	assert.Equal(t, "balanced", store.Get().Strategy)
}
