// File: adapters/adapters_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package adapters_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/adapters"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/scheduler"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/internal/concurrency"
	"github.com/momentics/hioload-rt/pool"
)

func TestControlAdapterConfigAndStats(t *testing.T) {
	ctrl := adapters.NewControlAdapter(nil, nil)

	cfg := ctrl.GetConfig()
	assert.Equal(t, "default", cfg["name"])

	var reloads atomic.Int32
	ctrl.OnReload(func() { reloads.Add(1) })
	require.NoError(t, ctrl.SetConfig(map[string]any{"workers": 2}))
	assert.Equal(t, float64(2), ctrl.GetConfig()["workers"])
	assert.Equal(t, int32(1), reloads.Load())

	require.Error(t, ctrl.SetConfig(map[string]any{"strategy": "diagonal"}))
	assert.Equal(t, int32(1), reloads.Load())

	ctrl.AddStatsSource("executor", func() map[string]int64 {
		return map[string]int64{"completed_tasks": 7}
	})
	ctrl.RegisterDebugProbe("custom", func() any { return "ok" })
	stats := ctrl.Stats()
	assert.Equal(t, int64(7), stats["executor.completed_tasks"])
	assert.Equal(t, "ok", stats["debug.custom"])
	assert.Contains(t, ctrl.DumpState(), "platform.cpus")
}

func TestExecutorAdapterYield(t *testing.T) {
	params := scheduler.DefaultParams()
	params.MaxIdleBackoff = 2 * time.Millisecond
	sched, err := scheduler.New(2, t.Name(), params, api.ModeIdleBackoff|api.ModeDelayExit)
	require.NoError(t, err)
	exec, err := concurrency.NewExecutor(concurrency.Config{
		Scheduler:       sched,
		Allocator:       task.NewAllocator(pool.NewStackPool(params.StackSizes), params.MaxTerminatedTasks, nil),
		ShutdownTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	ea := adapters.NewExecutorAdapter(exec)
	assert.Equal(t, 2, ea.NumWorkers())

	var yields atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, ea.Submit(func(yield func()) error {
			yield()
			yields.Add(1)
			return nil
		}, api.StackSmall, -1))
	}
	require.Error(t, ea.Submit(nil, api.StackSmall, -1))
	require.NoError(t, ea.Close())
	assert.Equal(t, int32(10), yields.Load())
	assert.ErrorIs(t, ea.Submit(func(func()) error { return nil }, api.StackSmall, -1), api.ErrExecutorClosed)
}

func TestCompletionSourceBatches(t *testing.T) {
	reg := scheduler.NewPollingRegistry()
	cs := adapters.NewCompletionSource("nic0", reg, 2)

	var ran int
	for i := 0; i < 3; i++ {
		cs.Post(func() { ran++ })
	}
	assert.Equal(t, 3, reg.PendingWork())
	assert.Equal(t, api.PollBusy, reg.Poll())
	assert.Equal(t, 2, ran)
	assert.Equal(t, api.PollIdle, reg.Poll())
	assert.Equal(t, 3, ran)
	assert.Equal(t, 0, cs.Pending())

	cs.Close()
	assert.Empty(t, reg.Tags())
}

// backoffRecorder counts idle sleeps of one worker and notes wake-ups.
type backoffRecorder struct {
	sleeps atomic.Int32
	woken  atomic.Bool
}

func (r *backoffRecorder) OnStateChange(int, api.RuntimeState, api.RuntimeState) {}
func (r *backoffRecorder) OnWake(int)                                            {}

func (r *backoffRecorder) OnIdleBackoff(_ int, _ time.Duration, woken bool) {
	r.sleeps.Add(1)
	if woken {
		r.woken.Store(true)
	}
}

func TestCompletionSourceWakesIdleWorkers(t *testing.T) {
	reg := scheduler.NewPollingRegistry()
	params := scheduler.DefaultParams()
	params.MaxIdleBackoff = time.Minute
	rec := &backoffRecorder{}
	s, err := scheduler.New(1, "completions", params, api.ModeIdleBackoff,
		scheduler.WithPolling(reg), scheduler.WithObserver(rec))
	require.NoError(t, err)
	s.SetAllStates(api.StateRunning)

	var wakes atomic.Int32
	cs := adapters.NewCompletionSource("nvme0", reg, 0, adapters.WithWaker(func(w int) {
		assert.Equal(t, api.AllWorkers, w)
		wakes.Add(1)
		s.DoSomeWork(w)
	}))
	defer cs.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for reg.PendingWork() == 0 {
			select {
			case <-stop:
				return
			default:
			}
			s.IdleCallback(0)
		}
	}()
	// let the backoff grow past the sleeps a timer would end quickly
	require.Eventually(t, func() bool { return rec.sleeps.Load() >= 10 }, 10*time.Second, time.Millisecond)
	require.False(t, rec.woken.Load())

	cs.Post(func() {})
	assert.Eventually(t, rec.woken.Load, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), wakes.Load())
	assert.Equal(t, 1, reg.PendingWork())
}

func TestAffinityAdapterRejectsEmpty(t *testing.T) {
	a := adapters.NewAffinityAdapter()
	require.ErrorIs(t, a.Pin(nil), api.ErrInvalidArgument)
	assert.False(t, a.Descriptor().Pinned)
}
