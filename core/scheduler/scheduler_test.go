// File: core/scheduler/scheduler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func newTestScheduler(t *testing.T, workers int, mode api.SchedulerMode, opts ...Option) *Scheduler {
	t.Helper()
	params := DefaultParams()
	params.MaxIdleBackoff = time.Minute
	s, err := New(workers, "test", params, mode, opts...)
	require.NoError(t, err)
	return s
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []api.RuntimeState
	wakes   int
	backoff []time.Duration
}

func (r *recordingObserver) OnStateChange(_ int, _, to api.RuntimeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, to)
}

func (r *recordingObserver) OnWake(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes++
}

func (r *recordingObserver) OnIdleBackoff(_ int, period time.Duration, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff = append(r.backoff, period)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(0, "empty", DefaultParams(), api.ModeNothingSpecial)
	assert.True(t, errors.Is(err, api.ErrConfiguration))

	params := DefaultParams()
	params.MaxIdleBackoff = 0
	_, err = New(2, "bad", params, api.ModeNothingSpecial)
	assert.True(t, errors.Is(err, api.ErrConfiguration))
}

func TestNewStartsInitialized(t *testing.T) {
	s := newTestScheduler(t, 3, api.ModeNothingSpecial)
	assert.Equal(t, 3, s.NumWorkers())
	assert.True(t, s.AllStatesEqual(api.StateInitialized))
	assert.Equal(t, uint64(1), s.WakeCount(), "initial mode is applied through SetMode")
}

func TestSetModeWakesEveryTime(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeNothingSpecial)
	mode := api.ModeIdleBackoff | api.ModeElasticity

	before := s.WakeCount()
	s.SetMode(mode)
	s.SetMode(mode)

	assert.Equal(t, mode, s.Mode())
	assert.Equal(t, before+2, s.WakeCount())
}

func TestModeAccessors(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeIdleBackoff)
	before := s.WakeCount()

	s.AddMode(api.ModeElasticity)
	assert.True(t, s.HasMode(api.ModeElasticity))
	assert.True(t, s.HasMode(api.ModeIdleBackoff))

	s.RemoveMode(api.ModeIdleBackoff)
	assert.False(t, s.HasMode(api.ModeIdleBackoff))

	s.UpdateMode(api.ModeFastIdle, true)
	s.UpdateMode(api.ModeElasticity, false)
	assert.Equal(t, api.ModeFastIdle, s.Mode())
	assert.Equal(t, before+4, s.WakeCount())
}

func TestDoSomeWorkOnlyWithIdleBackoff(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeNothingSpecial)
	before := s.WakeCount()
	s.DoSomeWork(0)
	assert.Equal(t, before, s.WakeCount())

	s.AddMode(api.ModeIdleBackoff)
	before = s.WakeCount()
	s.DoSomeWork(0)
	assert.Equal(t, before+1, s.WakeCount())
}

func TestStateAggregates(t *testing.T) {
	s := newTestScheduler(t, 3, api.ModeNothingSpecial)
	s.SetState(0, api.StateRunning)
	s.SetState(1, api.StateStopping)

	lo, hi := s.MinMaxState()
	assert.Equal(t, api.StateInitialized, lo)
	assert.Equal(t, api.StateStopping, hi)
	assert.False(t, s.AllStatesAtLeast(api.StateRunning))

	s.SetAllStatesAtLeast(api.StateSuspended)
	assert.Equal(t, []api.RuntimeState{api.StateSuspended, api.StateStopping, api.StateSuspended}, s.States())
	assert.True(t, s.AllStatesAtLeast(api.StateSuspended))
	assert.False(t, s.AllStatesEqual(api.StateSuspended))

	s.SetAllStates(api.StateTerminating)
	assert.True(t, s.AllStatesEqual(api.StateTerminating))
}

func TestInvalidWorkerPanics(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeNothingSpecial)
	assert.Panics(t, func() { s.State(2) })
	assert.Panics(t, func() { s.SetState(-1, api.StateRunning) })
	assert.Panics(t, func() { s.IdleCallback(7) })
	assert.Panics(t, func() { s.Suspend(2) })
}

func TestIdleCallbackDisabledReturnsImmediately(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeNothingSpecial)
	s.SetState(0, api.StateRunning)
	s.slots[0].waitCount.Store(30)

	start := time.Now()
	s.IdleCallback(0)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, api.StateRunning, s.State(0))
	assert.Equal(t, uint32(30), s.slots[0].waitCount.Load())
}

func TestIdleBackoffGrowsAndCaps(t *testing.T) {
	params := DefaultParams()
	params.MaxIdleBackoff = 4 * time.Millisecond
	obs := &recordingObserver{}
	s, err := New(1, "backoff", params, api.ModeIdleBackoff, WithObserver(obs))
	require.NoError(t, err)
	s.SetState(0, api.StateRunning)

	for i := 0; i < 5; i++ {
		s.IdleCallback(0)
	}
	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond,
	}, obs.backoff)
	assert.Equal(t, 4*time.Millisecond, s.BackoffPeriod(0))
	assert.Equal(t, api.StateRunning, s.State(0))
}

func TestIdleCallbackWakeResetsBackoff(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeIdleBackoff)
	s.SetState(0, api.StateRunning)
	s.slots[0].waitCount.Store(30)

	done := make(chan struct{})
	go func() {
		s.IdleCallback(0)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.State(0) == api.StateSleeping }, time.Second, time.Millisecond)

	s.Wake(0)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle callback was not woken")
	}
	assert.Equal(t, api.StateRunning, s.State(0))
	assert.Equal(t, time.Millisecond, s.BackoffPeriod(0))
}

func TestIdleCallbackReturnsWhenStopping(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, 1, api.ModeIdleBackoff, WithObserver(obs))
	s.SetState(0, api.StateStopping)
	s.slots[0].waitCount.Store(30)

	start := time.Now()
	s.IdleCallback(0)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, api.StateStopping, s.State(0))
	assert.Empty(t, obs.backoff)
	assert.Equal(t, uint32(30), s.slots[0].waitCount.Load())
}

func TestIdleCallbackKeepsForcedStop(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeIdleBackoff)
	s.SetAllStates(api.StateRunning)
	s.slots[1].waitCount.Store(30)

	done := make(chan struct{})
	go func() {
		s.IdleCallback(1)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.State(1) == api.StateSleeping }, time.Second, time.Millisecond)

	s.SetState(1, api.StateStopping)
	s.WakeAll()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle callback was not woken")
	}
	assert.Equal(t, api.StateStopping, s.State(1))
	assert.Equal(t, api.StateRunning, s.State(0))
}

func TestSuspendResume(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeNothingSpecial)
	s.SetAllStates(api.StateRunning)

	done := make(chan struct{})
	go func() {
		s.Suspend(1)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.State(1) == api.StateSleeping }, time.Second, time.Millisecond)

	s.Resume(1)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("suspended worker was not resumed")
	}
	assert.Equal(t, api.StateRunning, s.State(1))
}

func TestWakeReachesSuspendedWorkers(t *testing.T) {
	cases := []struct {
		name string
		wake func(s *Scheduler)
	}{
		{"wake worker", func(s *Scheduler) { s.Wake(1) }},
		{"wake all", func(s *Scheduler) { s.WakeAll() }},
		{"mode change", func(s *Scheduler) { s.SetMode(api.ModeIdleBackoff) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestScheduler(t, 2, api.ModeNothingSpecial)
			s.SetAllStates(api.StateRunning)

			done := make(chan struct{})
			go func() {
				s.Suspend(1)
				close(done)
			}()
			require.Eventually(t, func() bool { return s.State(1) == api.StateSleeping }, time.Second, time.Millisecond)

			tc.wake(s)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("suspended worker was not woken")
			}
			assert.Equal(t, api.StateRunning, s.State(1))
		})
	}
}

func TestSuspendKeepsForcedStop(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeNothingSpecial)
	s.SetState(0, api.StateRunning)

	done := make(chan struct{})
	go func() {
		s.Suspend(0)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.State(0) == api.StateSleeping }, time.Second, time.Millisecond)

	s.SetState(0, api.StateTerminating)
	s.Resume(api.AllWorkers)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("suspended worker was not resumed")
	}
	assert.Equal(t, api.StateTerminating, s.State(0))
}

func TestSuspendWhenStoppingReturns(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeNothingSpecial)
	s.SetState(0, api.StateStopping)
	s.Suspend(0)
	assert.Equal(t, api.StateStopping, s.State(0))
}

func TestWaitForState(t *testing.T) {
	s := newTestScheduler(t, 2, api.ModeNothingSpecial)

	err := s.WaitForState(context.Background(), api.StateTerminating, time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrOperationTimeout))

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.SetAllStatesAtLeast(api.StateTerminating)
	}()
	assert.NoError(t, s.WaitForState(context.Background(), api.StateTerminating, time.Millisecond, 5*time.Second))
}

func TestSelectActivePUWithoutElasticity(t *testing.T) {
	s := newTestScheduler(t, 4, api.ModeNothingSpecial)
	w, lock := s.SelectActivePU(2, true)
	assert.Equal(t, 2, w)
	assert.False(t, lock.Held())
}

func TestSelectActivePUFallback(t *testing.T) {
	s := newTestScheduler(t, 4, api.ModeElasticity)
	s.SetAllStates(api.StateRunning)

	s.puMtxs[1].Lock()
	s.SetState(2, api.StateSleeping)

	w, lock := s.SelectActivePU(1, true)
	require.True(t, lock.Held())
	assert.Equal(t, 3, w)
	lock.Unlock()
	lock.Unlock()
	s.puMtxs[1].Unlock()

	s.SetAllStates(api.StateStopping)
	w, lock = s.SelectActivePU(1, true)
	assert.Equal(t, 1, w)
	assert.False(t, lock.Held())
}

func TestSelectActivePURelaxesThreshold(t *testing.T) {
	s := newTestScheduler(t, 3, api.ModeElasticity)
	s.SetAllStates(api.StateStopping)
	s.SetState(0, api.StateTerminating)

	w, lock := s.SelectActivePU(0, false)
	require.True(t, lock.Held())
	assert.Equal(t, 1, w)
	lock.Unlock()

	s.SetAllStates(api.StateSleeping)
	w, lock = s.SelectActivePU(2, false)
	require.True(t, lock.Held())
	assert.Equal(t, 2, w)
	lock.Unlock()

	s.SetAllStates(api.StateTerminating)
	w, lock = s.SelectActivePU(2, false)
	assert.Equal(t, 2, w)
	assert.False(t, lock.Held())
}

func TestObserverSeesTransitions(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, 1, api.ModeNothingSpecial, WithObserver(obs))
	s.SetState(0, api.StateRunning)
	s.SetState(0, api.StateRunning)
	s.SetAllStatesAtLeast(api.StateStopping)

	assert.Equal(t, []api.RuntimeState{api.StateRunning, api.StateStopping}, obs.changes)
	assert.Equal(t, 1, obs.wakes)
}

func TestStackSizeLookup(t *testing.T) {
	s := newTestScheduler(t, 1, api.ModeNothingSpecial)
	assert.Equal(t, DefaultSmallStack, s.StackSize(api.StackSmall))
	assert.Equal(t, DefaultHugeStack, s.StackSize(api.StackHuge))
	assert.Equal(t, 0, s.StackSize(api.StackNone))
	assert.Panics(t, func() { s.StackSize(api.StackSize(42)) })
}
