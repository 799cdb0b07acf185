package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ThreadPool is the Scheduler collaborator from a Carrier's point of view,
// and the interface the facade runners (SequencedTaskRunner,
// ParallelTaskRunner, and friends) submit work through.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits)
	PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner)

	Start(ctx context.Context)
	Stop()

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int
	ActiveTaskCount() int
	DelayedTaskCount() int
}

// WorkerPool is a Scheduler: a fixed set of Carriers, each bound to its own
// worker goroutine, sharing one work-stealing domain. Posting a Task spawns
// it as a Fiber on a carrier chosen round-robin; from then on it is the
// carrier's run queue and steal logic (Carrier.RunLoop) that decide where
// it actually executes.
//
// Each worker goroutine dispatches ResumeEntries through its Carrier
// instead of invoking a Task closure directly.
type WorkerPool struct {
	id      string
	engine  *Engine
	workers int

	carriersMu sync.RWMutex
	carriers   []*Carrier
	rr         atomic.Uint64

	delayManager *DelayManager

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex

	replacements atomic.Int64
}

// NewWorkerPool builds a WorkerPool of the given size backed by a fresh
// Engine built from config (nil selects DefaultConfig()).
func NewWorkerPool(id string, workers int, config *Config) *WorkerPool {
	return &WorkerPool{
		id:           id,
		engine:       NewEngine(config),
		workers:      workers,
		delayManager: NewDelayManager(),
	}
}

// Engine exposes the pool's Engine for callers that want carrier-level
// introspection (Registry, Stats, Shutdown semantics) beyond the plain
// ThreadPool surface.
func (p *WorkerPool) Engine() *Engine { return p.engine }

// ID returns the pool's identifier.
func (p *WorkerPool) ID() string { return p.id }

// IsRunning reports whether Start has been called and Stop has not.
func (p *WorkerPool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// WorkerCount returns the number of carriers this pool was configured for
// (not counting replacements spawned by HandOff).
func (p *WorkerPool) WorkerCount() int { return p.workers }

// Start binds one Carrier per worker and launches its RunLoop goroutine.
func (p *WorkerPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	carriers := make([]*Carrier, p.workers)
	for i := 0; i < p.workers; i++ {
		carriers[i] = newCarrier(p.engine, p, int64(i+1), p.ctx)
	}

	p.carriersMu.Lock()
	p.carriers = carriers
	p.carriersMu.Unlock()

	for _, c := range carriers {
		p.wg.Add(1)
		go func(c *Carrier) {
			defer p.wg.Done()
			c.RunLoop(p.ctx.Done())
		}(c)
	}
}

// Stop cancels every worker's RunLoop and waits for them to exit.
func (p *WorkerPool) Stop() {
	p.engine.Shutdown()
	p.delayManager.Stop()

	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// StopGraceful waits up to timeout for every running fiber to drain before
// stopping workers.
func (p *WorkerPool) StopGraceful(timeout time.Duration) error {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return nil
	}
	p.runningMu.Unlock()

	p.engine.Shutdown()
	p.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			p.Stop()
			return fmt.Errorf("shutdown graceful timeout after %v", timeout)
		case <-ticker.C:
			if p.engine.RunningFiberCount() == 0 {
				p.Stop()
				return nil
			}
		}
	}
}

func (p *WorkerPool) snapshotCarriers() []*Carrier {
	p.carriersMu.RLock()
	defer p.carriersMu.RUnlock()
	return p.carriers
}

func (p *WorkerPool) nextCarrier() *Carrier {
	carriers := p.snapshotCarriers()
	if len(carriers) == 0 {
		return nil
	}
	i := p.rr.Add(1) - 1
	return carriers[int(i)%len(carriers)]
}

// PostInternal spawns task as a Fiber on a carrier chosen round-robin.
func (p *WorkerPool) PostInternal(task Task, traits TaskTraits) {
	c := p.nextCarrier()
	if c == nil {
		p.engine.config.RejectedTaskHandler.HandleRejectedTask(p.id, "no workers started")
		p.engine.config.Metrics.RecordTaskRejected(p.id, "no workers started")
		return
	}
	if _, err := c.Spawn(context.Background(), task, traits, ""); err != nil {
		p.engine.config.RejectedTaskHandler.HandleRejectedTask(p.id, err.Error())
		p.engine.config.Metrics.RecordTaskRejected(p.id, err.Error())
	}
}

// PostDelayedInternal schedules task to be posted to target after delay,
// via the pool's DelayManager - the ambient "post a task later" facade
// concern, distinct from a parked fiber's own TimerBinding.
func (p *WorkerPool) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) {
	p.delayManager.AddDelayedTask(task, delay, traits, target)
}

// QueuedTaskCount sums the ResumeEntries waiting across every carrier's
// local run queue.
func (p *WorkerPool) QueuedTaskCount() int {
	total := 0
	for _, c := range p.snapshotCarriers() {
		total += c.QueueLength()
	}
	return total
}

// ActiveTaskCount is the number of carriers currently running a fiber.
func (p *WorkerPool) ActiveTaskCount() int {
	total := 0
	for _, c := range p.snapshotCarriers() {
		if c.IsRunning() {
			total++
		}
	}
	return total
}

// DelayedTaskCount is the number of tasks waiting in the DelayManager.
func (p *WorkerPool) DelayedTaskCount() int {
	return p.delayManager.TaskCount()
}

// GetMetrics returns the metrics collector backing this pool's Engine, so
// facade runners (ParallelTaskRunner's emitQueueDepth) can emit observability
// data through the same collector carriers already report to.
func (p *WorkerPool) GetMetrics() Metrics {
	return p.engine.config.Metrics
}

// GetPanicHandler returns the panic handler backing this pool's Engine.
func (p *WorkerPool) GetPanicHandler() PanicHandler {
	return p.engine.config.PanicHandler
}

// notify is a hook point for a Carrier to announce new local work. Each
// carrier's own RunLoop already wakes on its buffered channel, so there is
// nothing to do here beyond keeping Carrier decoupled from WorkerPool's
// internals.
func (p *WorkerPool) notify() {}

// spawnReplacement starts one additional worker goroutine bound to a new
// Carrier, compensating for a sibling that HandOff detached for a presumed
// blocking call.
func (p *WorkerPool) spawnReplacement() {
	id := int64(p.workers) + p.replacements.Add(1) + 1000
	c := newCarrier(p.engine, p, id, p.ctx)

	p.carriersMu.Lock()
	p.carriers = append(p.carriers, c)
	p.carriersMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		c.RunLoop(p.ctx.Done())
	}()
}

var _ ThreadPool = (*WorkerPool)(nil)
