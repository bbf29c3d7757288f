// File: core/scheduler/poll_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-rt/api"
)

func TestPollingRegistryAggregates(t *testing.T) {
	r := NewPollingRegistry()
	assert.Equal(t, api.PollIdle, r.Poll())
	assert.Equal(t, 0, r.PendingWork())

	var polled atomic.Int32
	r.Register("device", func() api.PollStatus {
		polled.Add(1)
		return api.PollIdle
	}, func() int { return 3 })
	r.Register("network", func() api.PollStatus {
		polled.Add(1)
		return api.PollBusy
	}, func() int { return 4 })

	assert.Equal(t, api.PollBusy, r.Poll())
	assert.Equal(t, int32(2), polled.Load(), "every source is polled")
	assert.Equal(t, 7, r.PendingWork())
	assert.Equal(t, []string{"device", "network"}, r.Tags())

	r.Clear("network")
	r.Clear("unknown")
	assert.Equal(t, api.PollIdle, r.Poll())
	assert.Equal(t, 3, r.PendingWork())
}

func TestPollingRegistryReplaceAndNilFuncs(t *testing.T) {
	r := NewPollingRegistry()
	r.Register("device", func() api.PollStatus { return api.PollBusy }, func() int { return 1 })
	r.Register("device", nil, nil)

	assert.Equal(t, api.PollIdle, r.Poll())
	assert.Equal(t, 0, r.PendingWork())
	assert.Equal(t, []string{"device"}, r.Tags())
}

func TestSchedulerUsesInjectedRegistry(t *testing.T) {
	r := NewPollingRegistry()
	s := newTestScheduler(t, 1, api.ModeNothingSpecial, WithPolling(r))
	assert.Same(t, r, s.Polling())

	other := newTestScheduler(t, 1, api.ModeNothingSpecial)
	assert.Same(t, DefaultPolling(), other.Polling())
}
