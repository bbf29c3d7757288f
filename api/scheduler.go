// File: api/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler contracts: per-worker runtime states, scheduler mode flags and the
// queue capability that concrete work-stealing queues plug into.

package api

import (
	"strings"
	"time"
)

// RuntimeState is the run state of a single worker. States are ordered:
// comparisons like `s >= StateStopping` are meaningful.
type RuntimeState int32

const (
	StateInvalid RuntimeState = iota - 1
	StateInitialized
	StateRunning
	StateSuspended
	StateSleeping
	StateStopping
	StateTerminating
	StateStopped
)

// FirstValidState and LastValidState bound the ordered state domain.
const (
	FirstValidState = StateInitialized
	LastValidState  = StateStopped
)

func (s RuntimeState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// SchedulerMode is a bitset of flags controlling scheduler behaviour.
type SchedulerMode uint32

const (
	ModeNothingSpecial SchedulerMode = 0
	// ModeIdleBackoff lets idle workers sleep with exponential backoff.
	ModeIdleBackoff SchedulerMode = 1 << iota
	// ModeElasticity lets a worker run work on a PU other than its default.
	ModeElasticity
	// ModeFastIdle shortens the idle loop before entering backoff.
	ModeFastIdle
	// ModeStealHighPriorityFirst prefers stealing from same-domain workers.
	ModeStealHighPriorityFirst
	// ModeDelayExit keeps workers alive until all queues drained on shutdown.
	ModeDelayExit
)

var modeNames = []struct {
	flag SchedulerMode
	name string
}{
	{ModeIdleBackoff, "idle-backoff"},
	{ModeElasticity, "elasticity"},
	{ModeFastIdle, "fast-idle"},
	{ModeStealHighPriorityFirst, "steal-local-first"},
	{ModeDelayExit, "delay-exit"},
}

// Has reports whether any of the given flags are set.
func (m SchedulerMode) Has(flags SchedulerMode) bool {
	return m&flags != 0
}

func (m SchedulerMode) String() string {
	if m == ModeNothingSpecial {
		return "nothing-special"
	}
	var parts []string
	for _, n := range modeNames {
		if m&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// QueueProvider is the capability concrete work queues expose to worker
// loops. The scheduler core itself holds no queues.
type QueueProvider[T any] interface {
	// Push appends item to worker's local queue.
	Push(worker int, item T)
	// Pop removes the next item from worker's local queue.
	Pop(worker int) (T, bool)
	// Steal moves one item from victim's queue to the thief.
	Steal(thief, victim int) (T, bool)
	// Count returns the number of queued items for worker, or for all
	// workers when worker is AllWorkers.
	Count(worker int) int
	// Enumerate visits queued items until fn returns false.
	Enumerate(fn func(worker int, item T) bool) bool
}

// AllWorkers addresses every worker of a pool.
const AllWorkers = -1

// SchedulerObserver receives scheduler events for diagnostics.
type SchedulerObserver interface {
	OnStateChange(worker int, from, to RuntimeState)
	OnWake(worker int)
	OnIdleBackoff(worker int, period time.Duration, woken bool)
}
