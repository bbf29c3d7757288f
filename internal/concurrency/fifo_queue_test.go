// File: internal/concurrency/fifo_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-rt/api"
)

func TestFIFOQueueOrderAndCount(t *testing.T) {
	q := NewFIFOQueue[int](2, 0)
	q.Push(0, 1)
	q.Push(0, 2)
	q.Push(1, 3)

	assert.Equal(t, 2, q.Count(0))
	assert.Equal(t, 3, q.Count(api.AllWorkers))

	v, ok := q.Pop(0)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.Pop(1)
	assert.True(t, ok)
	_, ok = q.Pop(1)
	assert.False(t, ok)
}

func TestFIFOQueueStealThreshold(t *testing.T) {
	q := NewFIFOQueue[string](2, 1)
	q.Push(1, "a")

	_, ok := q.Steal(0, 1)
	assert.False(t, ok, "victim backlog must exceed the threshold")

	q.Push(1, "b")
	v, ok := q.Steal(0, 1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = q.Steal(1, 1)
	assert.False(t, ok)
}

func TestFIFOQueueEnumerate(t *testing.T) {
	q := NewFIFOQueue[int](3, 0)
	q.Push(2, 20)
	q.Push(0, 1)
	q.Push(0, 2)

	var seen [][2]int
	assert.True(t, q.Enumerate(func(w, item int) bool {
		seen = append(seen, [2]int{w, item})
		return true
	}))
	assert.Equal(t, [][2]int{{0, 1}, {0, 2}, {2, 20}}, seen)

	calls := 0
	assert.False(t, q.Enumerate(func(int, int) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)
}
