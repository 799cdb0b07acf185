package core

import (
	"sync"
	"sync/atomic"
)

// Config carries engine-wide tunables: the knobs the carrier model needs,
// plus the inherited PanicHandler/Metrics/RejectedTaskHandler/Logger.
type Config struct {
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	Logger              Logger
	EventPump           EventPump

	// TaskCacheSize bounds how many exited Fiber shells each Carrier keeps
	// ready for reuse before handing the rest to the engine-wide group
	// cache.
	TaskCacheSize int

	// HighPrecisionTimer selects time.AfterFunc-backed TimerBindings over
	// the coarse per-carrier wheel for every fiber, not just the carrier's
	// own thread-task timers.
	HighPrecisionTimer bool
}

// DefaultConfig returns a Config with sensible default handlers and carrier
// defaults.
func DefaultConfig() *Config {
	return &Config{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
		Logger:              &NoOpLogger{},
		TaskCacheSize:       64,
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = DefaultConfig()
	}
	cp := *c
	if cp.PanicHandler == nil {
		cp.PanicHandler = &DefaultPanicHandler{}
	}
	if cp.Metrics == nil {
		cp.Metrics = &NilMetrics{}
	}
	if cp.RejectedTaskHandler == nil {
		cp.RejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	if cp.Logger == nil {
		cp.Logger = &NoOpLogger{}
	}
	if cp.EventPump == nil {
		cp.EventPump = NewChannelPump()
	}
	if cp.TaskCacheSize <= 0 {
		cp.TaskCacheSize = 64
	}
	return &cp
}

// Engine is the process-wide collaborator: it owns the CarrierRegistry, the
// shutdown flag, the running-fiber counter every Carrier reports into, and
// the group fiber cache that overflows from per-carrier caches.
type Engine struct {
	config *Config
	logger Logger
	pump   EventPump

	registry *CarrierRegistry

	runningFibers atomic.Int64
	shuttingDown  atomic.Bool

	cacheMu    sync.Mutex
	groupCache []*Fiber
}

// NewEngine constructs an Engine. A nil config uses DefaultConfig().
func NewEngine(config *Config) *Engine {
	cfg := config.withDefaults()
	e := &Engine{config: cfg, logger: cfg.Logger, pump: cfg.EventPump}
	e.registry = newCarrierRegistry(e)
	return e
}

func (e *Engine) isShutdown() bool { return e.shuttingDown.Load() }

// Registry returns the engine's CarrierRegistry.
func (e *Engine) Registry() *CarrierRegistry { return e.registry }

// RunningFiberCount is the number of spawned fibers across every carrier
// that have not yet exited.
func (e *Engine) RunningFiberCount() int64 { return e.runningFibers.Load() }

// Shutdown flips the engine into draining mode: Spawn starts returning
// ErrRejected, and fibers are no longer recycled into a cache once they
// exit.
func (e *Engine) Shutdown() {
	e.shuttingDown.Store(true)
}

// IsShutdown reports whether Shutdown has been called.
func (e *Engine) IsShutdown() bool { return e.isShutdown() }

func (e *Engine) takeFromGroupCache() *Fiber {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	n := len(e.groupCache)
	if n == 0 {
		return nil
	}
	f := e.groupCache[n-1]
	e.groupCache = e.groupCache[:n-1]
	return f
}

func (e *Engine) returnToGroupCache(f *Fiber) {
	e.cacheMu.Lock()
	e.groupCache = append(e.groupCache, f)
	e.cacheMu.Unlock()
}

// GroupCacheSize reports how many recycled fiber shells currently sit in
// the engine-wide overflow cache.
func (e *Engine) GroupCacheSize() int {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return len(e.groupCache)
}
