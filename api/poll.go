// Package api
// Author: momentics
//
// Polling contract for external event sources (device or network completion
// queues) whose backlog must be visible to idle workers.

package api

// PollStatus is the result of polling an external event source.
type PollStatus int

const (
	// PollIdle signals the source has no more work to do.
	PollIdle PollStatus = iota
	// PollBusy signals the source still has outstanding work to poll for.
	PollBusy
)

func (s PollStatus) String() string {
	if s == PollBusy {
		return "busy"
	}
	return "idle"
}

// PollFunc polls a source once and reports whether it is still busy.
type PollFunc func() PollStatus

// PendingWorkFunc reports the amount of work a source has not yet drained.
type PendingWorkFunc func() int

// Poller aggregates registered polling sources.
type Poller interface {
	// Register installs or replaces the functions for tag.
	Register(tag string, poll PollFunc, pending PendingWorkFunc)
	// Clear removes tag.
	Clear(tag string)
	// Poll returns PollBusy if any registered source is busy.
	Poll() PollStatus
	// PendingWork sums the pending work of all sources.
	PendingWork() int
}
