// File: core/task/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context is the control-transfer capability behind a stackful task. Each
// context owns a goroutine, so task code runs on its own stack; control is
// handed back and forth over unbuffered channels and exactly one side runs at
// any time. The goroutine outlives a single body and is reused on rebind.
// It stays locked to one OS thread, which is rebound to the resuming
// worker's CPUs whenever the worker changes.

package task

import "runtime"

type startRequest struct {
	worker int
	body   func()
}

// Context switches control between a resumer and a body running on the
// context's own goroutine.
type Context struct {
	in     chan startRequest
	resume chan int
	out    chan struct{}

	// bind pins the context thread to a worker; bound is owned by the
	// context goroutine.
	bind  func(worker int)
	bound int

	started bool
	closed  bool
}

func newContext(bind func(worker int)) *Context {
	return &Context{
		in:     make(chan startRequest),
		resume: make(chan int),
		out:    make(chan struct{}),
		bind:   bind,
		bound:  NoWorker,
	}
}

func (c *Context) loop() {
	runtime.LockOSThread()
	for req := range c.in {
		c.follow(req.worker)
		req.body()
		c.out <- struct{}{}
	}
}

func (c *Context) follow(worker int) {
	if worker == c.bound {
		return
	}
	if c.bind != nil {
		c.bind(worker)
	}
	c.bound = worker
}

// Start switches into a fresh body on behalf of worker and blocks until it
// switches out or returns.
func (c *Context) Start(worker int, body func()) {
	if c.closed {
		panic("task: start on closed context")
	}
	if !c.started {
		c.started = true
		go c.loop()
	}
	c.in <- startRequest{worker: worker, body: body}
	<-c.out
}

// SwitchIn continues a body suspended in SwitchOut on behalf of worker and
// blocks until it switches out again or returns.
func (c *Context) SwitchIn(worker int) {
	c.resume <- worker
	<-c.out
}

// SwitchOut is called on the context goroutine. It hands control back to
// the pending Start or SwitchIn and blocks until the next SwitchIn. A body
// suspended when the context closes never returns from SwitchOut.
func (c *Context) SwitchOut() {
	c.out <- struct{}{}
	worker, ok := <-c.resume
	if !ok {
		runtime.Goexit()
	}
	c.follow(worker)
}

// Close ends the context goroutine. The context must not be running a body;
// a suspended body is unwound with its deferred calls.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.in)
	close(c.resume)
}
