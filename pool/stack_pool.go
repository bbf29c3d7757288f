// File: pool/stack_pool.go
// Package pool accounts task stacks per size class.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-rt/api"
)

// StackStats reports accounting counters for one size class.
type StackStats struct {
	Class    api.StackSize
	Size     int
	Acquired uint64
	Released uint64
}

// InUse returns the number of stacks acquired and not yet released.
func (s StackStats) InUse() int64 {
	return int64(s.Acquired) - int64(s.Released)
}

// Reserved returns the bytes accounted to stacks in use.
func (s StackStats) Reserved() int64 {
	return s.InUse() * int64(s.Size)
}

// class: stack accounting for one size class.
type class struct {
	id       api.StackSize
	size     int
	acquired atomic.Uint64
	released atomic.Uint64
}

func (c *class) stats() StackStats {
	return StackStats{
		Class:    c.id,
		Size:     c.size,
		Acquired: c.acquired.Load(),
		Released: c.released.Load(),
	}
}

// StackPool accounts stacks per size class. A task body runs on its own
// goroutine whose stack the Go runtime grows on demand, so the pool keeps
// counters and the configured class size instead of memory. The StackNone
// class is not tracked.
type StackPool struct {
	classes [api.NumStackSizes]*class
}

// NewStackPool creates accounting for the given byte sizes.
func NewStackPool(sizes [api.NumStackSizes]int) *StackPool {
	p := &StackPool{}
	for id := api.StackSmall; id < api.StackNone; id++ {
		p.classes[id] = &class{id: id, size: sizes[id]}
	}
	return p
}

// Size returns the stack size of class in bytes.
func (p *StackPool) Size(id api.StackSize) int {
	if c := p.classOf(id); c != nil {
		return c.size
	}
	return 0
}

// Acquire records a stack of class going into use and returns its size.
func (p *StackPool) Acquire(id api.StackSize) int {
	c := p.classOf(id)
	if c == nil {
		return 0
	}
	c.acquired.Add(1)
	return c.size
}

// Release records a stack obtained from Acquire going out of use.
func (p *StackPool) Release(id api.StackSize) {
	if c := p.classOf(id); c != nil {
		c.released.Add(1)
	}
}

// Stats returns per-class counters for the stackful classes.
func (p *StackPool) Stats() []StackStats {
	out := make([]StackStats, 0, api.NumStackSizes-1)
	for _, c := range p.classes {
		if c != nil {
			out = append(out, c.stats())
		}
	}
	return out
}

func (p *StackPool) classOf(id api.StackSize) *class {
	if !id.Valid() {
		panic("pool: invalid stack size class " + id.String())
	}
	return p.classes[id]
}
