// File: core/scheduler/params.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queue initialization parameters shared by the scheduler and the queues
// plugged into it.

package scheduler

import (
	"time"

	"github.com/momentics/hioload-rt/api"
)

// Stack sizes in bytes for the stackful classes.
const (
	DefaultSmallStack  = 64 << 10
	DefaultMediumStack = 128 << 10
	DefaultLargeStack  = 2 << 20
	DefaultHugeStack   = 32 << 20
)

// Params configures queue limits, stealing thresholds and idle backoff.
type Params struct {
	// MaxThreadCount caps the number of live tasks; Submit fails beyond it.
	MaxThreadCount int
	// MinTasksToStealPending is the minimum victim backlog before a steal.
	MinTasksToStealPending int
	// MaxTerminatedTasks caps recycled tasks kept per size class.
	MaxTerminatedTasks int
	// MaxIdleBackoff caps the exponential idle sleep.
	MaxIdleBackoff time.Duration
	// StackSizes holds the byte size of each stack class; StackNone is 0.
	StackSizes [api.NumStackSizes]int
}

// DefaultParams returns the stock parameters.
func DefaultParams() Params {
	return Params{
		MaxThreadCount:         1000,
		MinTasksToStealPending: 0,
		MaxTerminatedTasks:     100,
		MaxIdleBackoff:         time.Second,
		StackSizes: [api.NumStackSizes]int{
			api.StackSmall:  DefaultSmallStack,
			api.StackMedium: DefaultMediumStack,
			api.StackLarge:  DefaultLargeStack,
			api.StackHuge:   DefaultHugeStack,
			api.StackNone:   0,
		},
	}
}

// StackSize returns the byte size for class.
func (p Params) StackSize(class api.StackSize) int {
	if !class.Valid() {
		panic("scheduler: invalid stack size class " + class.String())
	}
	return p.StackSizes[class]
}

// Validate reports a configuration error for unusable parameters.
func (p Params) Validate() error {
	if p.MaxThreadCount <= 0 {
		return api.Errorf(api.ErrCodeConfiguration, "max thread count must be positive, got %d", p.MaxThreadCount)
	}
	if p.MinTasksToStealPending < 0 {
		return api.Errorf(api.ErrCodeConfiguration, "steal threshold must not be negative")
	}
	if p.MaxIdleBackoff <= 0 {
		return api.Errorf(api.ErrCodeConfiguration, "max idle backoff must be positive, got %s", p.MaxIdleBackoff)
	}
	for class := api.StackSmall; class < api.StackNone; class++ {
		if p.StackSizes[class] <= 0 {
			return api.Errorf(api.ErrCodeConfiguration, "%s stack size must be positive", class)
		}
	}
	return nil
}
