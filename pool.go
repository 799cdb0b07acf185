package taskrunner

import (
	"context"
	"sync"
	"time"

	"github.com/wisprt/go-carrier/core"
)

// GoroutineThreadPool is a ThreadPool backed by a carrier-model WorkerPool:
// each of its workers owns a dedicated Carrier, and PostInternal spawns a
// Task as a Fiber rather than running it to completion inline - letting
// carriers steal work from each other instead of sitting idle.
type GoroutineThreadPool struct {
	id   string
	pool *core.WorkerPool
}

func schedulerConfigToEngineConfig(cfg *core.TaskSchedulerConfig) *core.Config {
	if cfg == nil {
		return core.DefaultConfig()
	}
	return &core.Config{
		PanicHandler:        cfg.PanicHandler,
		Metrics:             cfg.Metrics,
		RejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// NewGoroutineThreadPool creates a new GoroutineThreadPool with default
// handlers.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, core.DefaultTaskSchedulerConfig())
}

// NewGoroutineThreadPoolWithConfig creates a new GoroutineThreadPool using
// the given panic/metrics/rejection handlers.
func NewGoroutineThreadPoolWithConfig(id string, workers int, cfg *core.TaskSchedulerConfig) *GoroutineThreadPool {
	return &GoroutineThreadPool{
		id:   id,
		pool: core.NewWorkerPool(id, workers, schedulerConfigToEngineConfig(cfg)),
	}
}

// NewPriorityGoroutineThreadPool creates a new GoroutineThreadPool with
// default handlers. Unlike the old FIFO/priority TaskScheduler split, task
// ordering within a carrier is now driven by work-stealing rather than a
// distinct queue discipline, so this and NewGoroutineThreadPool are
// equivalent; the name is kept for API compatibility.
func NewPriorityGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPool(id, workers)
}

// NewPriorityGoroutineThreadPoolWithConfig is the config-accepting form of
// NewPriorityGoroutineThreadPool.
func NewPriorityGoroutineThreadPoolWithConfig(id string, workers int, cfg *core.TaskSchedulerConfig) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, cfg)
}

// GetScheduler returns the underlying WorkerPool, the carrier-model
// successor to the old TaskScheduler.
func (tg *GoroutineThreadPool) GetScheduler() *core.WorkerPool {
	return tg.pool
}

// Start starts all worker goroutines.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.pool.Start(ctx)
}

// Stop stops the thread pool immediately, without waiting for queued work.
func (tg *GoroutineThreadPool) Stop() {
	tg.pool.Stop()
}

// StopGraceful stops the thread pool gracefully, waiting for queued tasks
// to complete. Returns an error if timeout is exceeded before tasks
// complete.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	return tg.pool.StopGraceful(timeout)
}

// ID returns the ID of the thread pool.
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running.
func (tg *GoroutineThreadPool) IsRunning() bool {
	return tg.pool.IsRunning()
}

// WorkerCount returns the number of workers.
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.pool.WorkerCount()
}

// QueuedTaskCount returns the number of fibers waiting across every carrier.
func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.pool.QueuedTaskCount()
}

// ActiveTaskCount returns the number of carriers currently running a fiber.
func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.pool.ActiveTaskCount()
}

// DelayedTaskCount returns the number of tasks waiting to be posted by the
// pool's DelayManager.
func (tg *GoroutineThreadPool) DelayedTaskCount() int {
	return tg.pool.DelayedTaskCount()
}

// PostInternal spawns task as a Fiber on one of the pool's carriers.
func (tg *GoroutineThreadPool) PostInternal(task core.Task, traits core.TaskTraits) {
	tg.pool.PostInternal(task, traits)
}

// PostDelayedInternal schedules task to be posted to target after delay.
func (tg *GoroutineThreadPool) PostDelayedInternal(task core.Task, delay time.Duration, traits core.TaskTraits, target core.TaskRunner) {
	tg.pool.PostDelayedInternal(task, delay, traits, target)
}

// Stats returns a point-in-time observability snapshot of this pool.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.WorkerCount(),
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Delayed: tg.DelayedTaskCount(),
		Running: tg.IsRunning(),
	}
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// GlobalThreadPool is a short alias for GetGlobalThreadPool.
func GlobalThreadPool() *GoroutineThreadPool {
	return GetGlobalThreadPool()
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// CreateTaskRunner creates a new SequencedTaskRunner using the global thread pool.
// This is the recommended way to get a new TaskRunner.
func CreateTaskRunner(traits TaskTraits) *SequencedTaskRunner {
	pool := GetGlobalThreadPool()
	// Note: Currently SequencedTaskRunner ignores traits for the runner itself (it attaches traits to tasks).
	return core.NewSequencedTaskRunner(pool)
}

// NewParallelTaskRunner creates a new ParallelTaskRunner backed by
// threadPool, re-exported here so callers of the root package don't need
// to import core directly.
func NewParallelTaskRunner(threadPool ThreadPool, maxConcurrency int) *core.ParallelTaskRunner {
	return core.NewParallelTaskRunner(threadPool, maxConcurrency)
}
