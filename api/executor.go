// Package api
// Author: momentics
//
// Executor contract for submitting lightweight tasks to a worker pool.

package api

// TaskEntry is the body of a submitted task. The yield function suspends
// the task and returns once a worker resumes it again.
type TaskEntry func(yield func()) error

// Executor abstracts a pool of pinned workers running lightweight tasks.
type Executor interface {
	// Submit schedules entry on a task with the given stack class. A negative
	// hint lets the executor pick the worker.
	Submit(entry TaskEntry, stack StackSize, hint int) error

	// NumWorkers returns the number of worker threads.
	NumWorkers() int

	// Close stops all workers and waits for quiescence.
	Close() error
}
