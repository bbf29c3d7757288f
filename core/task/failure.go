// File: core/task/failure.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/momentics/hioload-rt/api"
)

// Failure describes a task whose entry returned an error or panicked. It
// matches api.ErrTaskFailed under errors.Is.
type Failure struct {
	TaskID uuid.UUID
	// Err is the returned error, or an error built from the panic value.
	Err error
	// Panic holds the recovered value; nil when the entry returned Err.
	Panic any
	// Stack is the task goroutine stack at the panic.
	Stack []byte
}

func (f *Failure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", f.TaskID, f.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", f.TaskID, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is reports api.ErrTaskFailed.
func (f *Failure) Is(target error) bool { return target == api.ErrTaskFailed }
