// File: api/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lightweight task status word and stack size classes.

package api

import "fmt"

// TaskStatus is the status word of a lightweight task.
type TaskStatus int32

const (
	TaskUnscheduled TaskStatus = iota
	TaskActive
	TaskSuspended
	TaskTerminated
)

func (s TaskStatus) String() string {
	switch s {
	case TaskUnscheduled:
		return "unscheduled"
	case TaskActive:
		return "active"
	case TaskSuspended:
		return "suspended"
	case TaskTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int32(s))
	}
}

// StackSize selects one of the fixed stack size classes.
type StackSize int

const (
	StackSmall StackSize = iota
	StackMedium
	StackLarge
	StackHuge
	// StackNone runs the task inline on the resuming worker; it cannot suspend.
	StackNone
)

// NumStackSizes is the number of stack size classes.
const NumStackSizes = int(StackNone) + 1

func (s StackSize) String() string {
	switch s {
	case StackSmall:
		return "small"
	case StackMedium:
		return "medium"
	case StackLarge:
		return "large"
	case StackHuge:
		return "huge"
	case StackNone:
		return "nostack"
	default:
		return fmt.Sprintf("StackSize(%d)", int(s))
	}
}

// Valid reports whether s names a known class.
func (s StackSize) Valid() bool {
	return s >= StackSmall && s <= StackNone
}
