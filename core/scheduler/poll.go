// File: core/scheduler/poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry of external event sources polled by idle workers. Readers load an
// immutable snapshot; writers replace it under a mutex, so registration never
// blocks pollers.

package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/momentics/hioload-rt/api"
)

type pollSource struct {
	poll    api.PollFunc
	pending api.PendingWorkFunc
}

// PollingRegistry maps a source tag to its poll and pending-work functions.
type PollingRegistry struct {
	mu      sync.Mutex
	sources atomic.Pointer[map[string]pollSource]
}

var _ api.Poller = (*PollingRegistry)(nil)

// NewPollingRegistry returns an empty registry.
func NewPollingRegistry() *PollingRegistry {
	r := &PollingRegistry{}
	empty := map[string]pollSource{}
	r.sources.Store(&empty)
	return r
}

var defaultPolling = NewPollingRegistry()

// DefaultPolling returns the process-wide registry. Subsystems register at
// init and clear at teardown.
func DefaultPolling() *PollingRegistry { return defaultPolling }

// Register installs or replaces the functions for tag. Nil functions are
// treated as an idle source with no pending work.
func (r *PollingRegistry) Register(tag string, poll api.PollFunc, pending api.PendingWorkFunc) {
	if poll == nil {
		poll = func() api.PollStatus { return api.PollIdle }
	}
	if pending == nil {
		pending = func() int { return 0 }
	}
	r.update(func(m map[string]pollSource) {
		m[tag] = pollSource{poll: poll, pending: pending}
	})
	klog.V(2).InfoS("registered polling source", "tag", tag)
}

// Clear removes tag. Clearing an unknown tag is a no-op.
func (r *PollingRegistry) Clear(tag string) {
	r.update(func(m map[string]pollSource) {
		delete(m, tag)
	})
	klog.V(2).InfoS("cleared polling source", "tag", tag)
}

func (r *PollingRegistry) update(fn func(map[string]pollSource)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.sources.Load()
	next := make(map[string]pollSource, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	fn(next)
	r.sources.Store(&next)
}

// Poll polls every source and returns PollBusy if any reports busy. All
// sources are polled even after one reports busy.
func (r *PollingRegistry) Poll() api.PollStatus {
	status := api.PollIdle
	for _, src := range *r.sources.Load() {
		if src.poll() == api.PollBusy {
			status = api.PollBusy
		}
	}
	return status
}

// PendingWork sums the pending work of all sources.
func (r *PollingRegistry) PendingWork() int {
	total := 0
	for _, src := range *r.sources.Load() {
		total += src.pending()
	}
	return total
}

// Tags lists the registered tags in sorted order.
func (r *PollingRegistry) Tags() []string {
	m := *r.sources.Load()
	tags := make([]string, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
