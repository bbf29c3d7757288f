// File: core/scheduler/scheduler.go
// Package scheduler implements the scheduler core: per-worker runtime state,
// mode flags, idle backoff, suspend/resume and elastic PU selection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The scheduler holds no task queues. Queue implementations satisfy
// api.QueueProvider and consult the scheduler for state and policy.

package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/api"
)

// maxBackoffExponent bounds 2^n milliseconds well inside time.Duration.
const maxBackoffExponent = 40

// workerSlot is the per-worker hot data, padded to its own cache line.
type workerSlot struct {
	state     atomic.Int32
	waitCount atomic.Uint32
	_         cpu.CacheLinePad
}

// waiter is a condition variable with broadcast-by-close semantics. A
// broadcast wakes only goroutines that fetched the channel before it.
type waiter struct {
	mu sync.Mutex
	ch chan struct{}
}

func (w *waiter) wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ch == nil {
		w.ch = make(chan struct{})
	}
	return w.ch
}

func (w *waiter) broadcast() {
	w.mu.Lock()
	if w.ch != nil {
		close(w.ch)
		w.ch = nil
	}
	w.mu.Unlock()
}

// PULock is the per-PU lock handed out by SelectActivePU.
type PULock struct {
	mu *sync.Mutex
}

// Held reports whether the lock is owned by the caller.
func (l *PULock) Held() bool { return l.mu != nil }

// Unlock releases the lock if held. It is safe to call more than once.
func (l *PULock) Unlock() {
	if l.mu != nil {
		l.mu.Unlock()
		l.mu = nil
	}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithObserver installs an observer for state changes, wakeups and backoff.
func WithObserver(o api.SchedulerObserver) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithPolling replaces the process-wide polling registry.
func WithPolling(r *PollingRegistry) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.polling = r
		}
	}
}

// Scheduler is the central authority for per-worker state and idle policy.
type Scheduler struct {
	description string
	params      Params
	mode        atomic.Uint32
	wakeCount   atomic.Uint64

	slots   []workerSlot
	puMtxs  []sync.Mutex
	idle    []waiter
	suspend []waiter

	domains  atomic.Pointer[domainTable]
	polling  *PollingRegistry
	observer api.SchedulerObserver
}

// New creates a scheduler for numWorkers workers, all in StateInitialized.
// Applying the initial mode wakes all workers once.
func New(numWorkers int, description string, params Params, mode api.SchedulerMode, opts ...Option) (*Scheduler, error) {
	if numWorkers <= 0 {
		return nil, api.Errorf(api.ErrCodeConfiguration, "scheduler %q needs at least one worker, got %d", description, numWorkers)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		description: description,
		params:      params,
		slots:       make([]workerSlot, numWorkers),
		puMtxs:      make([]sync.Mutex, numWorkers),
		idle:        make([]waiter, numWorkers),
		suspend:     make([]waiter, numWorkers),
		polling:     DefaultPolling(),
		observer:    nopObserver{},
	}
	for _, o := range opts {
		o(s)
	}
	for i := range s.slots {
		s.slots[i].state.Store(int32(api.StateInitialized))
	}
	s.domains.Store(singleDomain(numWorkers))
	s.SetMode(mode)
	klog.V(2).InfoS("scheduler created", "scheduler", description, "workers", numWorkers, "mode", mode.String())
	return s, nil
}

// Description returns the scheduler name.
func (s *Scheduler) Description() string { return s.description }

// NumWorkers returns the number of workers.
func (s *Scheduler) NumWorkers() int { return len(s.slots) }

// Params returns the queue initialization parameters.
func (s *Scheduler) Params() Params { return s.params }

// Polling returns the polling registry consulted by idle workers.
func (s *Scheduler) Polling() *PollingRegistry { return s.polling }

// StackSize returns the byte size of a stack class.
func (s *Scheduler) StackSize(class api.StackSize) int { return s.params.StackSize(class) }

func (s *Scheduler) checkWorker(worker int) {
	if worker < 0 || worker >= len(s.slots) {
		panic(fmt.Sprintf("scheduler %q: invalid worker index %d (workers: %d)", s.description, worker, len(s.slots)))
	}
}

// State returns the runtime state of worker.
func (s *Scheduler) State(worker int) api.RuntimeState {
	s.checkWorker(worker)
	return api.RuntimeState(s.slots[worker].state.Load())
}

// SetState stores state for worker unconditionally.
func (s *Scheduler) SetState(worker int, state api.RuntimeState) {
	s.checkWorker(worker)
	from := api.RuntimeState(s.slots[worker].state.Swap(int32(state)))
	if from != state {
		klog.V(4).InfoS("worker state changed", "scheduler", s.description, "worker", worker, "from", from, "to", state)
		s.observer.OnStateChange(worker, from, state)
	}
}

// compareAndSwapState moves worker from old to new only if it is still in old.
func (s *Scheduler) compareAndSwapState(worker int, old, new api.RuntimeState) bool {
	if !s.slots[worker].state.CompareAndSwap(int32(old), int32(new)) {
		return false
	}
	s.observer.OnStateChange(worker, old, new)
	return true
}

// SetAllStates stores state for every worker.
func (s *Scheduler) SetAllStates(state api.RuntimeState) {
	for w := range s.slots {
		s.SetState(w, state)
	}
}

// SetStateAtLeast raises worker to state if it is below it. It never lowers
// a state set concurrently by another component.
func (s *Scheduler) SetStateAtLeast(worker int, state api.RuntimeState) {
	s.checkWorker(worker)
	for {
		cur := api.RuntimeState(s.slots[worker].state.Load())
		if cur >= state || s.compareAndSwapState(worker, cur, state) {
			return
		}
	}
}

// SetAllStatesAtLeast raises every worker below state to state.
func (s *Scheduler) SetAllStatesAtLeast(state api.RuntimeState) {
	for w := range s.slots {
		s.SetStateAtLeast(w, state)
	}
}

// AllStatesAtLeast reports whether every worker reached state.
func (s *Scheduler) AllStatesAtLeast(state api.RuntimeState) bool {
	for w := range s.slots {
		if api.RuntimeState(s.slots[w].state.Load()) < state {
			return false
		}
	}
	return true
}

// AllStatesEqual reports whether every worker is exactly in state.
func (s *Scheduler) AllStatesEqual(state api.RuntimeState) bool {
	for w := range s.slots {
		if api.RuntimeState(s.slots[w].state.Load()) != state {
			return false
		}
	}
	return true
}

// MinMaxState returns the lowest and highest worker state.
func (s *Scheduler) MinMaxState() (lo, hi api.RuntimeState) {
	lo, hi = api.LastValidState, api.FirstValidState
	for w := range s.slots {
		st := api.RuntimeState(s.slots[w].state.Load())
		lo = min(lo, st)
		hi = max(hi, st)
	}
	return lo, hi
}

// States returns a snapshot of all worker states.
func (s *Scheduler) States() []api.RuntimeState {
	out := make([]api.RuntimeState, len(s.slots))
	for w := range s.slots {
		out[w] = api.RuntimeState(s.slots[w].state.Load())
	}
	return out
}

// WaitForState polls until every worker reached state, the timeout expires
// or ctx is done.
func (s *Scheduler) WaitForState(ctx context.Context, state api.RuntimeState, interval, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(context.Context) (bool, error) {
		return s.AllStatesAtLeast(state), nil
	})
	if err != nil {
		lo, hi := s.MinMaxState()
		return api.Errorf(api.ErrCodeTimeout, "scheduler %q: workers did not reach state %s", s.description, state).
			WithContext("min_state", lo.String()).
			WithContext("max_state", hi.String()).
			WithCause(err)
	}
	return nil
}

// Mode returns the current scheduler mode.
func (s *Scheduler) Mode() api.SchedulerMode {
	return api.SchedulerMode(s.mode.Load())
}

// HasMode reports whether any of flags is enabled.
func (s *Scheduler) HasMode(flags api.SchedulerMode) bool {
	return s.Mode().Has(flags)
}

// SetMode stores mode and wakes all workers so sleepers observe it.
func (s *Scheduler) SetMode(mode api.SchedulerMode) {
	s.mode.Store(uint32(mode))
	s.WakeAll()
}

// AddMode enables flags.
func (s *Scheduler) AddMode(flags api.SchedulerMode) {
	s.SetMode(s.Mode() | flags)
}

// RemoveMode disables flags.
func (s *Scheduler) RemoveMode(flags api.SchedulerMode) {
	s.SetMode(s.Mode() &^ flags)
}

// UpdateMode enables or disables flags.
func (s *Scheduler) UpdateMode(flags api.SchedulerMode, set bool) {
	if set {
		s.AddMode(flags)
	} else {
		s.RemoveMode(flags)
	}
}

// WakeAll unblocks every worker waiting in IdleCallback or Suspend.
func (s *Scheduler) WakeAll() {
	s.wakeCount.Add(1)
	for i := range s.idle {
		s.idle[i].broadcast()
		s.suspend[i].broadcast()
	}
	s.observer.OnWake(api.AllWorkers)
}

// Wake unblocks worker if it waits in IdleCallback or Suspend. AllWorkers
// wakes all.
func (s *Scheduler) Wake(worker int) {
	if worker == api.AllWorkers {
		s.WakeAll()
		return
	}
	s.checkWorker(worker)
	s.wakeCount.Add(1)
	s.idle[worker].broadcast()
	s.suspend[worker].broadcast()
	s.observer.OnWake(worker)
}

// WakeCount returns the number of wake operations issued so far.
func (s *Scheduler) WakeCount() uint64 { return s.wakeCount.Load() }

// DoSomeWork is called when new work was added. It reactivates idle
// backoff sleepers; without idle backoff nobody sleeps and it does nothing.
func (s *Scheduler) DoSomeWork(int) {
	if s.HasMode(api.ModeIdleBackoff) {
		s.WakeAll()
	}
}

// BackoffPeriod returns the period the next IdleCallback of worker would
// sleep for.
func (s *Scheduler) BackoffPeriod(worker int) time.Duration {
	s.checkWorker(worker)
	return s.backoffPeriod(s.slots[worker].waitCount.Load())
}

func (s *Scheduler) backoffPeriod(waitCount uint32) time.Duration {
	exp := min(waitCount, maxBackoffExponent)
	period := time.Duration(int64(1)<<exp) * time.Millisecond
	return min(period, s.params.MaxIdleBackoff)
}

// IdleCallback puts an idle worker to sleep for an exponentially growing
// period when idle backoff is enabled. Any wake resets the growth. On
// return the worker is moved back to running only if it is still sleeping.
// A worker already stopping returns without sleeping.
func (s *Scheduler) IdleCallback(worker int) {
	s.checkWorker(worker)
	if !s.HasMode(api.ModeIdleBackoff) {
		return
	}
	slot := &s.slots[worker]
	ch := s.idle[worker].wait()
	if !s.compareAndSwapState(worker, api.StateRunning, api.StateSleeping) &&
		s.State(worker) >= api.StateStopping {
		return
	}
	period := s.backoffPeriod(slot.waitCount.Add(1) - 1)

	timer := time.NewTimer(period)
	woken := false
	select {
	case <-ch:
		woken = true
		timer.Stop()
	case <-timer.C:
	}
	if woken {
		slot.waitCount.Store(0)
	}

	s.compareAndSwapState(worker, api.StateSleeping, api.StateRunning)
	klog.V(5).InfoS("idle backoff", "scheduler", s.description, "worker", worker, "period", period, "woken", woken)
	s.observer.OnIdleBackoff(worker, period, woken)
}

// Suspend takes worker offline until Resume or a wake reaches it. Callers
// that must stay offline re-check their condition after return. A worker
// already stopping or terminating returns immediately.
func (s *Scheduler) Suspend(worker int) {
	s.checkWorker(worker)
	ch := s.suspend[worker].wait()
	for {
		cur := api.RuntimeState(s.slots[worker].state.Load())
		if cur >= api.StateStopping {
			return
		}
		if s.compareAndSwapState(worker, cur, api.StateSleeping) {
			break
		}
	}
	klog.V(4).InfoS("worker suspended", "scheduler", s.description, "worker", worker)
	<-ch
	s.compareAndSwapState(worker, api.StateSleeping, api.StateRunning)
}

// Resume wakes a suspended worker. AllWorkers resumes every worker.
func (s *Scheduler) Resume(worker int) {
	if worker == api.AllWorkers {
		for i := range s.suspend {
			s.suspend[i].broadcast()
		}
		return
	}
	s.checkWorker(worker)
	s.suspend[worker].broadcast()
}

// SelectActivePU picks the worker whose PU should run work destined for
// preferred. Without elasticity preferred is returned with no lock held.
//
// With allowFallback every PU is tried once, starting at preferred, and
// preferred is returned unlocked if none qualifies. Without it the sweep is
// repeated, yielding between sweeps, and the admitted state is relaxed from
// suspended to sleeping to stopping when no PU qualifies at all.
func (s *Scheduler) SelectActivePU(preferred int, allowFallback bool) (int, PULock) {
	s.checkWorker(preferred)
	if !s.HasMode(api.ModeElasticity) {
		return preferred, PULock{}
	}
	n := len(s.slots)

	if allowFallback {
		for offset := 0; offset < n; offset++ {
			w := (preferred + offset) % n
			if s.puMtxs[w].TryLock() {
				if s.State(w) <= api.StateSuspended {
					return w, PULock{mu: &s.puMtxs[w]}
				}
				s.puMtxs[w].Unlock()
			}
		}
		return preferred, PULock{}
	}

	maxAllowed := api.StateSuspended
	for {
		allowed := 0
		for offset := 0; offset < n; offset++ {
			w := (preferred + offset) % n
			if s.puMtxs[w].TryLock() {
				if s.State(w) <= maxAllowed {
					return w, PULock{mu: &s.puMtxs[w]}
				}
				s.puMtxs[w].Unlock()
			}
			if s.State(w) <= maxAllowed {
				allowed++
			}
		}
		if allowed == 0 {
			switch {
			case maxAllowed <= api.StateSuspended:
				maxAllowed = api.StateSleeping
			case maxAllowed <= api.StateSleeping:
				maxAllowed = api.StateStopping
			default:
				// everything is terminating
				return preferred, PULock{}
			}
		}
		runtime.Gosched()
	}
}

// String describes the scheduler for diagnostics.
func (s *Scheduler) String() string {
	lo, hi := s.MinMaxState()
	return fmt.Sprintf("%s: %d workers, mode %s, states [%s, %s]", s.description, len(s.slots), s.Mode(), lo, hi)
}

type nopObserver struct{}

func (nopObserver) OnStateChange(int, api.RuntimeState, api.RuntimeState) {}
func (nopObserver) OnWake(int)                                            {}
func (nopObserver) OnIdleBackoff(int, time.Duration, bool)                {}
