// File: core/task/task.go
// Package task implements lightweight stackful tasks: suspendable units of
// user code with a private stack, resumed by whichever worker runs them.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Status machine: unscheduled -> active <-> suspended -> terminated. Only the
// entry returning (or panicking) terminates a task. Calling an operation in
// the wrong status, or on a task already destroyed, is a programming error
// and panics.

package task

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-rt/api"
)

// NoWorker marks a task that is not running on any worker.
const NoWorker = -1

// Entry is the body of a task. It may call t.Suspend to yield.
type Entry func(t *Task) error

// errNoStackSuspend is raised when a task without a stack tries to suspend.
var errNoStackSuspend = errors.New("task: a task without a stack cannot suspend")

// ErrAbandoned is the failure recorded on a task dropped before it finished.
var ErrAbandoned = errors.New("task: abandoned before completion")

// Task is a suspendable unit of execution.
type Task struct {
	id     uuid.UUID
	entry  Entry
	class  api.StackSize
	// stackBytes is the accounted stack size of class.
	stackBytes int
	status     atomic.Int32
	worker     atomic.Int64
	// released is set by Destroy and Abandon until the allocator hands
	// the task out again.
	released atomic.Bool

	ctx      *Context
	finished bool
	err      error

	alloc *Allocator
}

func newTask(entry Entry, class api.StackSize, stackBytes int, alloc *Allocator) *Task {
	if entry == nil {
		panic("task: nil entry")
	}
	t := &Task{
		id:         uuid.New(),
		entry:      entry,
		class:      class,
		stackBytes: stackBytes,
		alloc:      alloc,
	}
	if class != api.StackNone {
		var bind func(int)
		if alloc != nil {
			bind = alloc.bindThread
		}
		t.ctx = newContext(bind)
	}
	t.worker.Store(NoWorker)
	t.status.Store(int32(api.TaskUnscheduled))
	return t
}

// ID identifies the task for diagnostics. A rebind assigns a new ID.
func (t *Task) ID() uuid.UUID { return t.id }

// Status returns the current status.
func (t *Task) Status() api.TaskStatus { return api.TaskStatus(t.status.Load()) }

// StackClass returns the stack size class.
func (t *Task) StackClass() api.StackSize { return t.class }

// StackBytes returns the stack size accounted to the task. It is 0 for
// StackNone.
func (t *Task) StackBytes() int { return t.stackBytes }

// Worker returns the worker currently running the task, or NoWorker.
// It is meant for diagnostics only.
func (t *Task) Worker() int { return int(t.worker.Load()) }

// Err returns the failure of a terminated task, if any.
func (t *Task) Err() error {
	if t.Status() != api.TaskTerminated {
		return nil
	}
	return t.err
}

func (t *Task) String() string {
	return fmt.Sprintf("task %s (%s, %s)", t.id, t.class, t.Status())
}

func (t *Task) mustBe(op string, allowed ...api.TaskStatus) {
	if t.released.Load() {
		panic(fmt.Sprintf("task %s: %s after destroy", t.id, op))
	}
	st := t.Status()
	for _, a := range allowed {
		if st == a {
			return
		}
	}
	panic(fmt.Sprintf("task %s: %s in status %s", t.id, op, st))
}

// Resume runs the task on worker until it suspends or returns. It returns
// nil after a suspension or a successful return, and a *Failure when the
// entry failed.
func (t *Task) Resume(worker int) error {
	t.mustBe("resume", api.TaskUnscheduled, api.TaskSuspended)
	first := t.Status() == api.TaskUnscheduled
	t.worker.Store(int64(worker))
	t.status.Store(int32(api.TaskActive))

	switch {
	case t.ctx == nil:
		t.run()
	case first:
		t.ctx.Start(worker, t.run)
	default:
		t.ctx.SwitchIn(worker)
	}

	t.worker.Store(NoWorker)
	if !t.finished {
		t.status.Store(int32(api.TaskSuspended))
		return nil
	}
	t.status.Store(int32(api.TaskTerminated))
	if t.alloc != nil {
		t.alloc.observer.OnTaskTerminated(t.class, t.err != nil)
	}
	return t.err
}

func (t *Task) run() {
	t.err = t.invoke()
	t.finished = true
}

func (t *Task) invoke() (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if r == errNoStackSuspend {
			panic(r)
		}
		err = &Failure{
			TaskID: t.id,
			Err:    errors.Errorf("panic: %v", r),
			Panic:  r,
			Stack:  debug.Stack(),
		}
	}()
	if err := t.entry(t); err != nil {
		return &Failure{TaskID: t.id, Err: err}
	}
	return nil
}

// Suspend is called from inside the task's entry. It returns control to the
// Resume call site and blocks until the task is resumed again.
func (t *Task) Suspend() {
	if t.ctx == nil {
		panic(errNoStackSuspend)
	}
	t.mustBe("suspend", api.TaskActive)
	t.ctx.SwitchOut()
}

// Rebind installs a new entry on a terminated task and makes it
// unscheduled again, keeping its stack and context.
func (t *Task) Rebind(entry Entry) {
	t.mustBe("rebind", api.TaskTerminated)
	if entry == nil {
		panic("task: nil entry")
	}
	t.id = uuid.New()
	t.entry = entry
	t.finished = false
	t.err = nil
	t.status.Store(int32(api.TaskUnscheduled))
}

// Destroy releases a terminated task. Tasks from an allocator are recycled
// unless the allocator is draining. The task must not be used afterwards.
func (t *Task) Destroy() {
	t.mustBe("destroy", api.TaskTerminated)
	t.markReleased("destroy")
	if t.alloc != nil {
		t.alloc.release(t)
		return
	}
	t.free()
}

// Abandon drops a task that never finished, closing its context. A
// suspended body is unwound without resuming its code.
func (t *Task) Abandon() {
	t.mustBe("abandon", api.TaskUnscheduled, api.TaskSuspended)
	t.markReleased("abandon")
	t.finished = true
	t.err = &Failure{TaskID: t.id, Err: ErrAbandoned}
	t.status.Store(int32(api.TaskTerminated))
	if t.alloc != nil {
		t.alloc.abandon(t)
		return
	}
	t.free()
}

func (t *Task) markReleased(op string) {
	if !t.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("task %s: %s after destroy", t.id, op))
	}
}

// reuse hands a recycled task out again with a new entry.
func (t *Task) reuse(entry Entry) {
	t.released.Store(false)
	t.Rebind(entry)
}

func (t *Task) free() {
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
}
