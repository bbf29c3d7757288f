// File: internal/concurrency/fifo_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFOQueue is a per-worker FIFO work-stealing queue implementing
// api.QueueProvider. Each worker queue has its own mutex on its own cache line.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-rt/api"
)

type localQueue struct {
	mu sync.Mutex
	q  *queue.Queue
	_  cpu.CacheLinePad
}

// FIFOQueue holds one FIFO per worker.
type FIFOQueue[T any] struct {
	locals   []localQueue
	minSteal int
}

var _ api.QueueProvider[int] = (*FIFOQueue[int])(nil)

// NewFIFOQueue creates queues for numWorkers workers. A steal succeeds only
// when the victim holds more than minSteal items.
func NewFIFOQueue[T any](numWorkers, minSteal int) *FIFOQueue[T] {
	f := &FIFOQueue[T]{locals: make([]localQueue, numWorkers), minSteal: minSteal}
	for i := range f.locals {
		f.locals[i].q = queue.New()
	}
	return f
}

func (f *FIFOQueue[T]) Push(worker int, item T) {
	l := &f.locals[worker]
	l.mu.Lock()
	l.q.Add(item)
	l.mu.Unlock()
}

func (f *FIFOQueue[T]) Pop(worker int) (T, bool) {
	return removeFrom[T](&f.locals[worker], 0)
}

// Steal takes the oldest item of victim if its backlog exceeds the steal
// threshold.
func (f *FIFOQueue[T]) Steal(thief, victim int) (T, bool) {
	if thief == victim {
		var zero T
		return zero, false
	}
	return removeFrom[T](&f.locals[victim], f.minSteal)
}

func removeFrom[T any](l *localQueue, keep int) (item T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.q.Length() <= keep {
		return item, false
	}
	return l.q.Remove().(T), true
}

func (f *FIFOQueue[T]) Count(worker int) int {
	if worker != api.AllWorkers {
		l := &f.locals[worker]
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.q.Length()
	}
	n := 0
	for i := range f.locals {
		n += f.Count(i)
	}
	return n
}

// Enumerate visits queued items worker by worker, oldest first. It returns
// false if fn stopped the walk.
func (f *FIFOQueue[T]) Enumerate(fn func(worker int, item T) bool) bool {
	for w := range f.locals {
		l := &f.locals[w]
		l.mu.Lock()
		items := make([]T, l.q.Length())
		for i := range items {
			items[i] = l.q.Get(i).(T)
		}
		l.mu.Unlock()
		for _, it := range items {
			if !fn(w, it) {
				return false
			}
		}
	}
	return true
}
