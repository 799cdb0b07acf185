// Package fiberctx provides the one primitive the carrier layer treats as a
// black box: a goroutine that can be handed a body to run, resumed and
// parked any number of times while that body executes, and afterward reset
// to run a different body - the way a stackful coroutine's stack gets
// reset(target, ...) and recycled rather than torn down on every exit.
//
// Go has no stack-switch primitive, so Context emulates "switch" with a
// pair of unbuffered rendezvous channels. Exactly one goroutine may be
// blocked in Resume on a given Context at any moment - the carrier layer
// (via Fiber.stealLock) is responsible for that mutual exclusion, not
// this package.
package fiberctx

import "sync/atomic"

// Context is the run-time half of a coroutine: one persistent goroutine
// that can be Reset to run a new body after its previous one finishes.
type Context struct {
	resume chan struct{}
	parked chan struct{}
	body   chan func(*Context)
	exited atomic.Bool
}

// New starts the backing goroutine. It sits idle until Reset supplies a
// body to run.
func New() *Context {
	c := &Context{
		resume: make(chan struct{}),
		parked: make(chan struct{}),
		body:   make(chan func(*Context), 1),
	}
	go c.loop()
	return c
}

func (c *Context) loop() {
	for body := range c.body {
		<-c.resume
		body(c)
		c.exited.Store(true)
		c.parked <- struct{}{}
	}
}

// Reset assigns the body to run the next time Resume is called. Only valid
// when the context is idle: freshly New'd, or after its previous body has
// exited and been observed via Exited.
func (c *Context) Reset(body func(*Context)) {
	c.exited.Store(false)
	c.body <- body
}

// Resume hands control to the backing goroutine and blocks until it parks
// (via Park) or its body returns.
func (c *Context) Resume() {
	c.resume <- struct{}{}
	<-c.parked
}

// Park yields control back to whichever goroutine is blocked in Resume, and
// blocks until Resume is called again. Must only be called from the
// goroutine running body.
func (c *Context) Park() {
	c.parked <- struct{}{}
	<-c.resume
}

// Exited reports whether the current body has returned.
func (c *Context) Exited() bool {
	return c.exited.Load()
}
