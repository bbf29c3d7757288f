// File: core/task/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocator creates tasks per stack size class and recycles terminated
// tasks with their contexts instead of freeing them. Stacks are accounted
// per class in a pool.StackPool.

package task

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/pool"
)

// Observer receives task lifecycle events.
type Observer interface {
	OnTaskCreated(class api.StackSize, reused bool)
	OnTaskTerminated(class api.StackSize, failed bool)
}

type nopObserver struct{}

func (nopObserver) OnTaskCreated(api.StackSize, bool)    {}
func (nopObserver) OnTaskTerminated(api.StackSize, bool) {}

// AllocatorStats are cumulative allocator counters.
type AllocatorStats struct {
	Created   uint64
	Reused    uint64
	Destroyed uint64
	Freed     uint64
	Abandoned uint64
	Live      int64
	Pooled    int
}

// Allocator is a size-class task allocator.
type Allocator struct {
	stacks   *pool.StackPool
	maxFree  int
	observer Observer
	binder   atomic.Pointer[func(worker int) error]

	mu       sync.Mutex
	free     [api.NumStackSizes]*queue.Queue
	draining bool

	created   atomic.Uint64
	reused    atomic.Uint64
	destroyed atomic.Uint64
	freed     atomic.Uint64
	abandoned atomic.Uint64
	live      atomic.Int64
}

// NewAllocator creates an allocator accounting stacks in stacks. maxFree
// bounds the recycled tasks kept per class. A nil observer is allowed.
func NewAllocator(stacks *pool.StackPool, maxFree int, observer Observer) *Allocator {
	if observer == nil {
		observer = nopObserver{}
	}
	a := &Allocator{stacks: stacks, maxFree: maxFree, observer: observer}
	for i := range a.free {
		a.free[i] = queue.New()
	}
	return a
}

// Create returns an unscheduled task running entry on a stack of class.
func (a *Allocator) Create(entry Entry, class api.StackSize) (*Task, error) {
	if !class.Valid() {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "invalid stack size class %d", int(class))
	}
	if entry == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil task entry")
	}
	a.live.Add(1)

	a.mu.Lock()
	if a.free[class].Length() > 0 {
		t := a.free[class].Remove().(*Task)
		a.mu.Unlock()
		t.reuse(entry)
		a.reused.Add(1)
		a.observer.OnTaskCreated(class, true)
		return t, nil
	}
	a.mu.Unlock()

	t := newTask(entry, class, a.stacks.Acquire(class), a)
	a.created.Add(1)
	a.observer.OnTaskCreated(class, false)
	return t, nil
}

func (a *Allocator) release(t *Task) {
	a.live.Add(-1)
	a.destroyed.Add(1)

	a.mu.Lock()
	if !a.draining && a.free[t.class].Length() < a.maxFree {
		a.free[t.class].Add(t)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.freeTask(t)
}

func (a *Allocator) abandon(t *Task) {
	a.live.Add(-1)
	a.abandoned.Add(1)
	a.freeTask(t)
}

func (a *Allocator) freeTask(t *Task) {
	a.stacks.Release(t.class)
	t.free()
	a.freed.Add(1)
}

// SetThreadBinder installs the function that pins a task context's thread
// to a worker's CPUs. It runs on the context thread whenever a task is
// resumed by a different worker than last time. Nil disables binding.
func (a *Allocator) SetThreadBinder(bind func(worker int) error) {
	if bind == nil {
		a.binder.Store(nil)
		return
	}
	a.binder.Store(&bind)
}

func (a *Allocator) bindThread(worker int) {
	bind := a.binder.Load()
	if bind == nil {
		return
	}
	if err := (*bind)(worker); err != nil {
		klog.ErrorS(err, "task thread binding failed", "worker", worker)
	}
}

// Drain frees all recycled tasks. Tasks destroyed afterwards are freed
// immediately instead of being recycled.
func (a *Allocator) Drain() {
	a.mu.Lock()
	a.draining = true
	var pending []*Task
	for i, q := range a.free {
		for q.Length() > 0 {
			pending = append(pending, q.Remove().(*Task))
		}
		a.free[i] = queue.New()
	}
	a.mu.Unlock()

	for _, t := range pending {
		a.freeTask(t)
	}
	klog.V(2).InfoS("task allocator drained", "freed", len(pending))
}

// Stats returns the allocator counters.
func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	pooled := 0
	for _, q := range a.free {
		pooled += q.Length()
	}
	a.mu.Unlock()
	return AllocatorStats{
		Created:   a.created.Load(),
		Reused:    a.reused.Load(),
		Destroyed: a.destroyed.Load(),
		Freed:     a.freed.Load(),
		Abandoned: a.abandoned.Load(),
		Live:      a.live.Load(),
		Pooled:    pooled,
	}
}
