// File: adapters/poller_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CompletionSource bridges an asynchronous completion queue (device or
// network completions delivered as callbacks) into a polling registry, so
// idle workers drain it and see its backlog. An optional waker cuts short
// the idle backoff of sleeping workers when a completion arrives.

package adapters

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-rt/api"
)

const defaultBatchSize = 16

// CompletionSource queues completion callbacks posted by an external
// subsystem and runs them in batches from Poll.
type CompletionSource struct {
	tag       string
	batchSize int
	registry  api.Poller
	waker     func(worker int)

	mu      sync.Mutex
	pending *queue.Queue
}

// CompletionOption configures a CompletionSource.
type CompletionOption func(*CompletionSource)

// WithWaker calls wake with api.AllWorkers after every Post, typically
// Scheduler.DoSomeWork.
func WithWaker(wake func(worker int)) CompletionOption {
	return func(cs *CompletionSource) { cs.waker = wake }
}

// NewCompletionSource registers a source under tag in registry. A
// non-positive batchSize uses the default.
func NewCompletionSource(tag string, registry api.Poller, batchSize int, opts ...CompletionOption) *CompletionSource {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	cs := &CompletionSource{
		tag:       tag,
		batchSize: batchSize,
		registry:  registry,
		pending:   queue.New(),
	}
	for _, opt := range opts {
		opt(cs)
	}
	registry.Register(tag, cs.Poll, cs.Pending)
	return cs
}

// Post queues a completion callback and wakes idle workers.
func (cs *CompletionSource) Post(fn func()) {
	cs.mu.Lock()
	cs.pending.Add(fn)
	cs.mu.Unlock()
	if cs.waker != nil {
		cs.waker(api.AllWorkers)
	}
}

// Poll runs up to one batch of callbacks and reports busy while more remain.
func (cs *CompletionSource) Poll() api.PollStatus {
	batch := make([]func(), 0, cs.batchSize)
	cs.mu.Lock()
	for len(batch) < cs.batchSize && cs.pending.Length() > 0 {
		batch = append(batch, cs.pending.Remove().(func()))
	}
	left := cs.pending.Length()
	cs.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	if left > 0 {
		return api.PollBusy
	}
	return api.PollIdle
}

// Pending returns the number of queued callbacks.
func (cs *CompletionSource) Pending() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pending.Length()
}

// Close removes the source from its registry.
func (cs *CompletionSource) Close() {
	cs.registry.Clear(cs.tag)
}
