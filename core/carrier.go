package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CarrierStats is running totals describing a Carrier's lifetime activity,
// returned by Carrier.Stats(). The Prometheus exporter does not read it; its
// carrier series come from the Metrics callbacks.
type CarrierStats struct {
	Created       int64
	Completed     int64
	SwitchCount   int64
	StealCount    int64
	StealFailures int64
}

// Carrier is a thread-bound scheduler: the goroutine running RunLoop owns
// exactly one Carrier, and every Fiber it resumes runs "on" that carrier
// until it parks, exits, or is stolen away while parked.
type Carrier struct {
	id     int64
	engine *Engine
	pool   *WorkerPool // nil for fake carriers lazily built for foreign goroutines
	logger Logger
	pump   EventPump

	baseCtx context.Context

	runQueue chan *ResumeEntry
	stopCh   chan struct{}

	threadFiber *Fiber // sentinel representing this carrier's own run-loop goroutine

	currentMu sync.Mutex
	current   *Fiber

	// yieldingTask is the fiber, if any, that just called yield() and has
	// not yet had its ResumeEntry re-enqueued. The re-enqueue happens in
	// resumeFiber's epilog, after the switch-out fully completes, rather
	// than before the fiber parks - only one dispatch chain is ever active
	// on a carrier at a time, so no extra lock is needed to guard this.
	yieldingTask *Fiber

	runningCount atomic.Int64

	cacheMu    sync.Mutex
	localCache []*Fiber

	statsMu sync.Mutex
	stats   CarrierStats

	wheel *timerWheel

	hasBeenHandoff atomic.Bool
	handoffSignal  chan struct{}
	handoffOnce    sync.Once

	// terminated is set once Destroy has fully drained this carrier - after
	// it flips true, the local fiber cache has been emptied and no further
	// Spawn/steal onto this carrier is expected.
	terminated atomic.Bool
}

func newCarrier(engine *Engine, pool *WorkerPool, id int64, baseCtx context.Context) *Carrier {
	c := &Carrier{
		id:            id,
		engine:        engine,
		pool:          pool,
		logger:        engine.logger,
		pump:          engine.pump,
		baseCtx:       baseCtx,
		runQueue:      make(chan *ResumeEntry, 256),
		stopCh:        make(chan struct{}),
		handoffSignal: make(chan struct{}),
	}
	c.threadFiber = &Fiber{id: GenerateTaskID(), name: "carrier-thread", isThreadTask: true}
	c.threadFiber.status.Store(int32(FiberRunnable))
	c.threadFiber.setCarrier(c)
	c.current = c.threadFiber
	c.wheel = newTimerWheel(c)
	return c
}

// newFakeCarrier builds a workerless Carrier for a goroutine the registry
// has never seen bound via a WorkerPool - e.g. a foreign goroutine calling
// Registry().Current() without running a carrier's RunLoop.
func newFakeCarrier(engine *Engine, id int64) *Carrier {
	c := &Carrier{id: id, engine: engine, logger: engine.logger}
	c.threadFiber = &Fiber{id: GenerateTaskID(), name: "foreign-thread", isThreadTask: true}
	c.threadFiber.status.Store(int32(FiberRunnable))
	c.threadFiber.setCarrier(c)
	c.current = c.threadFiber
	return c
}

// ID returns the carrier's process-unique identifier.
func (c *Carrier) ID() int64 { return c.id }

// Less orders carriers by id, for deterministic iteration.
func (c *Carrier) Less(other *Carrier) bool { return c.id < other.id }

// IsFake reports whether this carrier has no backing WorkerPool worker.
func (c *Carrier) IsFake() bool { return c.pool == nil }

// IsRunning reports whether this carrier is currently executing a spawned
// Fiber rather than sitting idle in its own run loop.
func (c *Carrier) IsRunning() bool {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()
	return c.current != c.threadFiber
}

func (c *Carrier) currentFiber() *Fiber {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()
	if c.current == c.threadFiber {
		return nil
	}
	return c.current
}

// QueueLength is the number of ResumeEntries waiting locally, used by the
// scheduler's idle/steal heuristic.
func (c *Carrier) QueueLength() int { return len(c.runQueue) }

// RunningTaskCount is the number of fibers spawned on this carrier that
// have not yet exited.
func (c *Carrier) RunningTaskCount() int64 { return c.runningCount.Load() }

// Stats returns a snapshot of this carrier's lifetime counters.
func (c *Carrier) Stats() CarrierStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Spawn creates (or recycles from cache) a Fiber to run target. ctx is
// consulted only to find the calling Fiber, if any, so the new Fiber can
// record its parent link.
//
// A nested spawn - called from inside a fiber's own body - runs the new
// fiber inline to its first park before returning, the same way a stackful
// coroutine's spawn runs the callee on the caller's own stack until it first
// yields: resumeFiber blocks the calling goroutine (the parent fiber's own)
// until the child parks or exits, so control returns synchronously to the
// statement after Spawn. A root spawn - no calling fiber in ctx, the usual
// case for WorkerPool.PostInternal - has no stack to run inline on, so it
// falls back to enqueuing the fiber for the carrier's own worker to pick up.
func (c *Carrier) Spawn(ctx context.Context, target Task, traits TaskTraits, name string) (*Fiber, error) {
	if c.engine.isShutdown() && name != ShutdownTaskName {
		return nil, ErrRejected
	}
	if c.IsFake() {
		return nil, ErrInvalidState
	}

	parent := CurrentFiber(ctx)

	fiber := c.acquireFiber()
	if fiber != nil {
		fiber.reset(target, parent, name, c.baseCtx)
	} else {
		fiber = newFiber(target, traits, parent, name, c.baseCtx)
	}
	fiber.traits = traits
	fiber.setCarrier(c)
	fiber.enqueueTime = time.Now()

	c.statsMu.Lock()
	c.stats.Created++
	c.statsMu.Unlock()
	c.runningCount.Add(1)
	c.engine.runningFibers.Add(1)

	entry := newResumeEntry(fiber, c)
	fiber.resumeEntry = entry

	if parent != nil {
		c.resumeFiber(fiber)
		return fiber, nil
	}

	c.enqueueResume(entry)
	return fiber, nil
}

// acquireFiber pops a recyclable Fiber shell from this carrier's local
// cache (LIFO), falling back to the engine-wide group cache. Returns nil on
// a full cache miss.
func (c *Carrier) acquireFiber() *Fiber {
	c.cacheMu.Lock()
	if n := len(c.localCache); n > 0 {
		f := c.localCache[n-1]
		c.localCache = c.localCache[:n-1]
		c.cacheMu.Unlock()
		return f
	}
	c.cacheMu.Unlock()

	return c.engine.takeFromGroupCache()
}

// enqueueResume pushes a ResumeEntry onto this carrier's local queue and
// notifies the WorkerPool so an idle worker can pick it up.
func (c *Carrier) enqueueResume(entry *ResumeEntry) {
	select {
	case c.runQueue <- entry:
	default:
		go func() { c.runQueue <- entry }()
	}
	if c.pool != nil {
		c.pool.notify()
	}
}

// steal attempts to take ownership of a parked fiber belonging to another
// carrier. The fiber's own stealLock - not a lock on this carrier - is what
// guards the handoff: it stays non-zero for the brief window between the
// fiber being marked parked and its Park() call genuinely completing, and a
// stealing carrier must spin through that window rather than risk resuming
// a stack that is still mid-switch. claimed then mediates the (much rarer)
// case of two carriers racing to steal the very same fiber once stealLock
// has cleared.
func (c *Carrier) steal(fiber *Fiber) StealResult {
	if c.engine.isShutdown() {
		return StealFailByStatus
	}

	for fiber.stealLock.Load() != 0 {
		// Microsecond-scale guard: the fiber has been marked parked but
		// hasn't yet reached its Park() call. A spin is correct here since
		// the window is bounded by a few instructions.
	}

	if !fiber.claimed.CompareAndSwap(false, true) {
		c.statsMu.Lock()
		c.stats.StealFailures++
		c.statsMu.Unlock()
		c.engine.config.Metrics.RecordSteal(c.id, StealFailByContention)
		return StealFailByContention
	}

	if fiber.Status() != FiberParked {
		fiber.claimed.Store(false)
		c.statsMu.Lock()
		c.stats.StealFailures++
		c.statsMu.Unlock()
		c.engine.config.Metrics.RecordSteal(c.id, StealFailByStatus)
		return StealFailByStatus
	}

	if prev := fiber.Carrier(); prev != nil {
		prev.runningCount.Add(-1)
	}
	fiber.setCarrier(c)
	fiber.stealCount.Add(1)
	c.runningCount.Add(1)

	c.statsMu.Lock()
	c.stats.StealCount++
	c.statsMu.Unlock()
	c.engine.config.Metrics.RecordSteal(c.id, StealSuccess)
	return StealSuccess
}

// resumeFiber runs one dispatch cycle of fiber on this carrier: switches
// control to it, then runs the epilog covering the deferred yield
// re-enqueue, deferred timer registration, and, on exit, recycling.
func (c *Carrier) resumeFiber(fiber *Fiber) {
	c.currentMu.Lock()
	from := c.current
	c.current = fiber
	c.currentMu.Unlock()

	fiber.status.Store(int32(FiberRunnable))

	c.statsMu.Lock()
	c.stats.SwitchCount++
	c.statsMu.Unlock()

	if !fiber.enqueueTime.IsZero() {
		c.engine.config.Metrics.RecordSwitch(c.id, time.Since(fiber.enqueueTime))
	}

	fiber.ctx.Resume()

	// The Resume() call above only returns once fiber has genuinely parked
	// or exited - the park handshake is complete, so it is now safe for a
	// sibling carrier to steal fiber.
	fiber.stealLock.Store(0)

	c.currentMu.Lock()
	c.current = from
	c.currentMu.Unlock()

	if fiber.ctx.Exited() {
		fiber.status.Store(int32(FiberZombie))
		c.taskExit(fiber)
		return
	}

	if c.yieldingTask == fiber {
		c.yieldingTask = nil
		entry := newResumeEntry(fiber, c)
		fiber.resumeEntry = entry
		c.enqueueResume(entry)
	}

	if !fiber.pendingDeadline.IsZero() {
		deadline := fiber.pendingDeadline
		fiber.pendingDeadline = time.Time{}
		fiber.timer = c.scheduleTimer(fiber, deadline)
	}
}

// taskExit is the sole exit path for a fiber: decrement counters, cancel
// any outstanding timer, and recycle the shell into a cache (local first,
// global on overflow) unless the engine is draining.
func (c *Carrier) taskExit(fiber *Fiber) {
	c.runningCount.Add(-1)
	c.engine.runningFibers.Add(-1)
	c.statsMu.Lock()
	c.stats.Completed++
	c.statsMu.Unlock()

	if fiber.timer != nil {
		fiber.timer.Cancel()
		fiber.timer = nil
	}
	c.UnregisterEvent(fiber)

	if c.engine.isShutdown() {
		return
	}

	c.cacheMu.Lock()
	if len(c.localCache) < c.engine.config.TaskCacheSize {
		c.localCache = append(c.localCache, fiber)
		size := len(c.localCache)
		c.cacheMu.Unlock()
		c.engine.config.Metrics.RecordFiberCacheSize(c.id, size)
		return
	}
	c.cacheMu.Unlock()
	c.engine.returnToGroupCache(fiber)
}

// park is the low-level primitive behind Park/ParkWithTimeout: it blocks the
// calling fiber's goroutine until some carrier resumes it.
func (c *Carrier) park(fiber *Fiber) {
	fiber.claimed.Store(false)
	fiber.stealLock.Store(1)
	fiber.enqueueTime = time.Now()
	fiber.status.Store(int32(FiberParked))
	fiber.parkCount.Add(1)

	fiber.ctx.Park()

	c.raiseIfShutdown(fiber)
	if err := fiber.PendingException(); err != nil {
		panic(err)
	}
}

// yield implements the cooperative, non-preemptive yield: if this carrier
// has other work waiting, the fiber parks and is re-enqueued behind it;
// otherwise it keeps running uninterrupted. The re-enqueue itself does not
// happen here - fiber is only stashed as c.yieldingTask, and resumeFiber's
// epilog performs the actual enqueue once the switch-out is fully complete.
// Enqueuing before the switch-out finishes is exactly the race that would
// let a sibling carrier steal and resume a still-switching-out stack.
func (c *Carrier) yield(fiber *Fiber) {
	if len(c.runQueue) == 0 {
		return
	}
	fiber.claimed.Store(false)
	fiber.stealLock.Store(1)
	fiber.enqueueTime = time.Now()
	fiber.status.Store(int32(FiberParked))
	fiber.parkCount.Add(1)
	c.yieldingTask = fiber

	fiber.ctx.Park()

	c.raiseIfShutdown(fiber)
	if err := fiber.PendingException(); err != nil {
		panic(err)
	}
}

// raiseIfShutdown implements the engine's cooperative shutdown contract: once
// the engine has begun shutting down, every fiber but the SHUTDOWN sentinel
// observes a pending exception the next time it resumes from a park.
func (c *Carrier) raiseIfShutdown(fiber *Fiber) {
	if c.engine.isShutdown() && fiber.name != ShutdownTaskName {
		fiber.pendingErr = ErrShutdownRaised
	}
}

// wakeupTask re-enqueues a parked fiber for resumption via a fresh
// ResumeEntry, so steal accounting applies uniformly whether the wakeup
// came from a timer, event-pump readiness, or an explicit Unpark.
func (c *Carrier) wakeupTask(fiber *Fiber) {
	if fiber.Status() != FiberParked {
		return
	}
	owner := fiber.Carrier()
	if owner == nil {
		return
	}
	entry := newResumeEntry(fiber, owner)
	fiber.resumeEntry = entry
	owner.enqueueResume(entry)
}

// RegisterEvent arranges for fiber to be woken when ready fires, delegating
// to the engine's EventPump.
func (c *Carrier) RegisterEvent(fiber *Fiber, ready <-chan struct{}) {
	c.UnregisterEvent(fiber)
	fiber.eventCancel = c.pump.Register(fiber, ready)
}

// UnregisterEvent cancels any pending event registration for fiber,
// guarding against a stale readiness notice waking a later incarnation of a
// recycled fiber.
func (c *Carrier) UnregisterEvent(fiber *Fiber) {
	if fiber.eventCancel != nil {
		fiber.eventCancel()
		fiber.eventCancel = nil
	}
}

// HandOff requests that the scheduler detach this carrier's worker from its
// OS thread for the duration of a presumed blocking call. The WorkerPool
// compensates by starting a replacement worker so overall concurrency is
// preserved.
func (c *Carrier) HandOff() {
	if c.hasBeenHandoff.CompareAndSwap(false, true) {
		if c.pool != nil {
			c.pool.spawnReplacement()
		}
	}
}

// signal lets a detached (handed-off) worker's RunLoop exit once the steal
// that emptied its queue has moved its remaining work elsewhere.
func (c *Carrier) signal() {
	c.handoffOnce.Do(func() { close(c.handoffSignal) })
}

// RunLoop is the body of a WorkerPool worker goroutine: it repeatedly pulls
// a ResumeEntry from this carrier's queue (or steals one from a sibling
// when idle) and dispatches it, until stopCh closes or, for a handed-off
// worker, signal is called.
func (c *Carrier) RunLoop(stopCh <-chan struct{}) {
	c.engine.registry.bind(c)
	defer c.engine.registry.unbind()

	for {
		select {
		case entry := <-c.runQueue:
			entry.Dispatch(c)
			continue
		case <-stopCh:
			return
		case <-c.handoffSignal:
			return
		default:
		}

		if entry, ok := c.trySteal(); ok {
			// Dispatch itself signals the fiber's prior owner if stealing
			// this entry emptied a handed-off carrier - not c, the thief.
			entry.Dispatch(c)
			continue
		}

		select {
		case entry := <-c.runQueue:
			entry.Dispatch(c)
		case <-stopCh:
			return
		case <-c.handoffSignal:
			return
		}
	}
}

// trySteal scans sibling carriers (busiest-looking first is unnecessary at
// this scale; registry order is deterministic) for a ResumeEntry to run
// when this carrier's own queue is empty.
func (c *Carrier) trySteal() (*ResumeEntry, bool) {
	if c.pool == nil {
		return nil, false
	}
	for _, sibling := range c.engine.registry.Carriers() {
		if sibling == c || sibling.pool == nil {
			continue
		}
		select {
		case entry := <-sibling.runQueue:
			return entry, true
		default:
		}
	}
	return nil, false
}

// Destroy tears down the carrier: it waits (bounded by ctx) for any
// foreign/unmanaged fibers still parked on it to drain, then stops its
// timer wheel, clears its local fiber cache, and marks it terminated.
func (c *Carrier) Destroy(ctx context.Context) error {
	close(c.stopCh)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for c.RunningTaskCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	c.wheel.stop()

	c.cacheMu.Lock()
	c.localCache = nil
	c.cacheMu.Unlock()

	c.terminated.Store(true)
	return nil
}

// Terminated reports whether Destroy has completed on this carrier.
func (c *Carrier) Terminated() bool { return c.terminated.Load() }
