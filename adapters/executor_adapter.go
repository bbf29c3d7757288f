// File: adapters/executor_adapter.go
// Package adapters provides glue between internal packages and api contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecutorAdapter implements api.Executor over the reference worker loop.
// A yield in the submitted entry suspends the underlying lightweight task.

package adapters

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

// ExecutorAdapter wraps a concurrency.Executor to satisfy api.Executor.
type ExecutorAdapter struct {
	exec *concurrency.Executor
}

var _ api.Executor = (*ExecutorAdapter)(nil)

// NewExecutorAdapter wraps exec.
func NewExecutorAdapter(exec *concurrency.Executor) *ExecutorAdapter {
	return &ExecutorAdapter{exec: exec}
}

// Submit schedules entry on a new task.
func (ea *ExecutorAdapter) Submit(entry api.TaskEntry, stack api.StackSize, hint int) error {
	if entry == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil task entry")
	}
	_, err := ea.exec.Submit(func(t *task.Task) error {
		return entry(t.Suspend)
	}, stack, hint)
	return err
}

// NumWorkers returns the number of workers.
func (ea *ExecutorAdapter) NumWorkers() int {
	return ea.exec.NumWorkers()
}

// Close shuts the executor down and waits for quiescence.
func (ea *ExecutorAdapter) Close() error {
	return ea.exec.Close()
}
