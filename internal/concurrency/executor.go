// File: internal/concurrency/executor.go
// Package concurrency implements the reference worker loop: pinned workers
// running lightweight tasks from per-worker FIFO queues with stealing.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each worker pops from its own queue, then steals in the scheduler's steal
// order. Suspended tasks go back to the tail of the worker's queue. An idle
// worker consults the polling registry before backing off.

package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/scheduler"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/topology"
)

// ErrExecutorClosed is returned by Submit after shutdown started.
var ErrExecutorClosed = api.ErrExecutorClosed

const (
	// idleSpins is the number of empty iterations before idle backoff.
	idleSpins = 16
	// DefaultShutdownTimeout bounds the quiescence wait in Close.
	DefaultShutdownTimeout = 30 * time.Second
)

// Config wires an executor to its scheduler core.
type Config struct {
	Scheduler *scheduler.Scheduler
	Allocator *task.Allocator
	// Placement binds worker i to Placement.Masks[i] when BindThreads is set.
	Placement   *affinity.Placement
	BindThreads bool
	// Binder binds the calling thread; defaults to affinity.Bind. With
	// BindThreads it also pins task context threads to the resuming
	// worker's mask.
	Binder func(topology.Mask) error
	// OnFailure receives failed tasks; defaults to logging.
	OnFailure       func(t *task.Task, err error)
	ShutdownTimeout time.Duration
}

// Executor runs lightweight tasks on the scheduler's workers.
type Executor struct {
	cfg   Config
	sched *scheduler.Scheduler
	alloc *task.Allocator
	queue *FIFOQueue[*task.Task]
	group *errgroup.Group

	mu      sync.RWMutex
	closed  bool
	next    atomic.Uint64
	offline []offlineRequest

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	requeued  atomic.Int64
	stolen    atomic.Int64
	abandoned atomic.Int64
}

// NewExecutor starts one goroutine per scheduler worker. With BindThreads
// every worker binds its OS thread before the executor is returned; a
// binding failure stops the pool and is reported.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Scheduler == nil || cfg.Allocator == nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "executor needs a scheduler and an allocator")
	}
	n := cfg.Scheduler.NumWorkers()
	if cfg.BindThreads {
		if cfg.Placement == nil || cfg.Placement.NumWorkers() != n {
			return nil, api.Errorf(api.ErrCodeConfiguration, "thread binding needs a placement for %d workers", n)
		}
		if cfg.Binder == nil {
			cfg.Binder = affinity.Bind
		}
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = func(t *task.Task, err error) {
			klog.ErrorS(err, "task failed", "task", t.ID())
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	e := &Executor{
		cfg:     cfg,
		sched:   cfg.Scheduler,
		alloc:   cfg.Allocator,
		queue:   NewFIFOQueue[*task.Task](n, cfg.Scheduler.Params().MinTasksToStealPending),
		group:   &errgroup.Group{},
		offline: make([]offlineRequest, n),
	}
	if cfg.BindThreads {
		masks := cfg.Placement.Masks
		e.alloc.SetThreadBinder(func(w int) error {
			return cfg.Binder(masks[w])
		})
	}

	ready := make(chan error, n)
	for w := 0; w < n; w++ {
		w := w
		e.group.Go(func() error { return e.runWorker(w, ready) })
	}
	var bindErr error
	for w := 0; w < n; w++ {
		if err := <-ready; err != nil && bindErr == nil {
			bindErr = err
		}
	}
	if bindErr != nil {
		_ = e.Close()
		return nil, api.NewError(api.ErrCodeConfiguration, "failed to bind worker threads").WithCause(bindErr)
	}
	klog.V(2).InfoS("executor started", "scheduler", e.sched.Description(), "workers", n, "bound", cfg.BindThreads)
	return e, nil
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int { return e.sched.NumWorkers() }

// Queue exposes the work queues for diagnostics.
func (e *Executor) Queue() api.QueueProvider[*task.Task] { return e.queue }

// Submit creates a task for entry and queues it. A negative hint selects a
// worker round-robin. Under elasticity the task goes to the first PU that
// is not sleeping or stopping, starting at the hint. Submit fails with
// ErrResourceExhausted once MaxThreadCount tasks are live.
func (e *Executor) Submit(entry task.Entry, class api.StackSize, hint int) (*task.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}
	n := e.sched.NumWorkers()
	if hint >= n {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "worker hint %d out of range [0, %d)", hint, n)
	}
	if hint < 0 {
		hint = int(e.next.Add(1)-1) % n
	}
	if limit := e.sched.Params().MaxThreadCount; limit > 0 && e.alloc.Stats().Live >= int64(limit) {
		return nil, api.Errorf(api.ErrCodeResourceExhausted, "%d live tasks reached the limit", limit)
	}

	t, err := e.alloc.Create(entry, class)
	if err != nil {
		return nil, err
	}
	target, lock := e.sched.SelectActivePU(hint, true)
	e.queue.Push(target, t)
	lock.Unlock()

	e.submitted.Add(1)
	e.sched.DoSomeWork(target)
	return t, nil
}

func (e *Executor) runWorker(w int, ready chan<- error) error {
	if e.cfg.BindThreads {
		mask := e.cfg.Placement.Masks[w]
		if err := e.cfg.Binder(mask); err != nil {
			ready <- errors.Wrapf(err, "worker %d", w)
			e.sched.SetState(w, api.StateTerminating)
			return nil
		}
		klog.V(4).InfoS("worker bound", "worker", w, "mask", mask.String())
	}
	// raise initialized to running without clobbering an early stop
	e.sched.SetStateAtLeast(w, api.StateRunning)
	ready <- nil

	spins := 0
	for {
		if e.sched.State(w) >= api.StateStopping && !e.keepDraining() {
			break
		}
		e.parkIfRequested(w)
		if t, ok := e.take(w); ok {
			spins = 0
			e.execute(w, t)
			continue
		}
		if e.sched.State(w) >= api.StateStopping {
			break
		}
		if e.sched.Polling().Poll() == api.PollBusy || e.sched.Polling().PendingWork() > 0 {
			runtime.Gosched()
			continue
		}
		if spins < idleSpins && !e.sched.HasMode(api.ModeFastIdle) {
			spins++
			runtime.Gosched()
			continue
		}
		e.sched.IdleCallback(w)
		if !e.sched.HasMode(api.ModeIdleBackoff) {
			runtime.Gosched()
		}
	}

	e.sched.SetStateAtLeast(w, api.StateTerminating)
	klog.V(4).InfoS("worker terminated", "worker", w)
	return nil
}

func (e *Executor) keepDraining() bool {
	return e.sched.HasMode(api.ModeDelayExit)
}

func (e *Executor) take(w int) (*task.Task, bool) {
	if t, ok := e.queue.Pop(w); ok {
		return t, true
	}
	for _, victim := range e.sched.StealOrder(w) {
		if t, ok := e.queue.Steal(w, victim); ok {
			e.stolen.Add(1)
			return t, true
		}
	}
	return nil, false
}

func (e *Executor) execute(w int, t *task.Task) {
	err := t.Resume(w)
	if t.Status() == api.TaskSuspended {
		e.requeued.Add(1)
		e.queue.Push(w, t)
		return
	}
	if err != nil {
		e.failed.Add(1)
		e.cfg.OnFailure(t, err)
	}
	e.completed.Add(1)
	t.Destroy()
}

// offlineRequest tracks a request to take a worker's PU offline.
type offlineRequest struct {
	mu     sync.Mutex
	want   bool
	parked bool
}

// parkIfRequested keeps w suspended while it is wanted offline. Wakes meant
// for idle workers also end a suspension, so the request is re-checked.
func (e *Executor) parkIfRequested(w int) {
	r := &e.offline[w]
	for {
		r.mu.Lock()
		if !r.want || e.sched.State(w) >= api.StateStopping {
			r.parked = false
			r.mu.Unlock()
			return
		}
		if !r.parked {
			r.parked = true
			klog.V(4).InfoS("worker going offline", "worker", w)
		}
		r.mu.Unlock()
		e.sched.Suspend(w)
	}
}

// SuspendWorker asks worker w to take its PU offline once its current task
// yields. Queued work is still reachable by stealing workers.
func (e *Executor) SuspendWorker(w int) error {
	if w < 0 || w >= e.NumWorkers() {
		return api.Errorf(api.ErrCodeInvalidArgument, "worker %d out of range [0, %d)", w, e.NumWorkers())
	}
	r := &e.offline[w]
	r.mu.Lock()
	r.want = true
	r.mu.Unlock()
	e.sched.Wake(w)
	return nil
}

// ResumeWorker brings a suspended worker back online and waits until it
// left its suspension.
func (e *Executor) ResumeWorker(ctx context.Context, w int) error {
	if w < 0 || w >= e.NumWorkers() {
		return api.Errorf(api.ErrCodeInvalidArgument, "worker %d out of range [0, %d)", w, e.NumWorkers())
	}
	r := &e.offline[w]
	r.mu.Lock()
	r.want = false
	r.mu.Unlock()

	// the worker may not be waiting yet; repeat the wake until it leaves
	return wait.PollUntilContextTimeout(ctx, 100*time.Microsecond, e.cfg.ShutdownTimeout, true, func(context.Context) (bool, error) {
		r.mu.Lock()
		parked := r.parked
		r.mu.Unlock()
		if !parked {
			return true, nil
		}
		e.sched.Resume(w)
		return false, nil
	})
}

// Close stops the workers and waits for quiescence.
func (e *Executor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(ctx)
}

// Shutdown requests stopping on every worker, wakes them and waits until all
// reached terminating. Under ModeDelayExit queued tasks run to completion
// first; otherwise they are abandoned and their contexts closed.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.sched.SetAllStatesAtLeast(api.StateStopping)
	e.sched.WakeAll()
	e.sched.Resume(api.AllWorkers)

	if err := e.sched.WaitForState(ctx, api.StateTerminating, time.Millisecond, e.cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := e.group.Wait(); err != nil {
		return err
	}
	e.abandonQueued()
	e.sched.SetAllStates(api.StateStopped)
	e.alloc.Drain()
	klog.V(2).InfoS("executor stopped", "scheduler", e.sched.Description(), "completed", e.completed.Load())
	return nil
}

func (e *Executor) abandonQueued() {
	if e.queue.Count(api.AllWorkers) == 0 {
		return
	}
	e.queue.Enumerate(func(w int, t *task.Task) bool {
		klog.V(2).InfoS("abandoning task", "worker", w, "task", t.ID(), "status", t.Status())
		return true
	})
	for w := 0; w < e.NumWorkers(); w++ {
		for {
			t, ok := e.queue.Pop(w)
			if !ok {
				break
			}
			t.Abandon()
			e.abandoned.Add(1)
		}
	}
	klog.InfoS("executor abandoned queued tasks", "scheduler", e.sched.Description(), "tasks", e.abandoned.Load())
}

// Stats returns executor counters.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": e.submitted.Load(),
		"completed_tasks": e.completed.Load(),
		"failed_tasks":    e.failed.Load(),
		"requeued_tasks":  e.requeued.Load(),
		"stolen_tasks":    e.stolen.Load(),
		"abandoned_tasks": e.abandoned.Load(),
		"pending_tasks":   int64(e.queue.Count(api.AllWorkers)),
		"num_workers":     int64(e.NumWorkers()),
	}
}
