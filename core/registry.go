package core

import (
	"bytes"
	"runtime"
	"sort"
	"strconv"
	"sync"
)

// goroutineID extracts the numeric id of the calling goroutine by parsing
// the "goroutine N [running]:" header runtime.Stack prints for it. There is
// no public API for this; it's the same parse used by other Go schedulers
// and event loops that need a stable per-goroutine key.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}

// CarrierRegistry maps OS-thread-bound goroutines to the Carrier they
// host. A goroutine that asks for Current without ever having been bound
// by a WorkerPool's RunLoop gets a lazily built fake carrier - this models
// a foreign thread
// (e.g. a JNI attach in the original engine) touching the runtime without
// going through a WorkerPool.
type CarrierRegistry struct {
	engine *Engine

	mu       sync.RWMutex
	carriers map[int64]*Carrier
	nextFake int64
}

func newCarrierRegistry(engine *Engine) *CarrierRegistry {
	return &CarrierRegistry{
		engine:   engine,
		carriers: make(map[int64]*Carrier),
	}
}

// bind registers c as the carrier for the calling goroutine. Must be called
// from the goroutine that will run c's loop.
func (reg *CarrierRegistry) bind(c *Carrier) {
	gid := goroutineID()
	reg.mu.Lock()
	reg.carriers[gid] = c
	reg.mu.Unlock()
}

// unbind removes whatever carrier is registered for the calling goroutine.
func (reg *CarrierRegistry) unbind() {
	gid := goroutineID()
	reg.mu.Lock()
	delete(reg.carriers, gid)
	reg.mu.Unlock()
}

// Current returns the Carrier bound to the calling goroutine, lazily
// constructing a fake (workerless) one if none was ever bound. Any attempt
// to reach a Scheduler through a fake carrier returns ErrInvalidState.
func (reg *CarrierRegistry) Current() *Carrier {
	gid := goroutineID()

	reg.mu.RLock()
	c, ok := reg.carriers[gid]
	reg.mu.RUnlock()
	if ok {
		return c
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if c, ok = reg.carriers[gid]; ok {
		return c
	}
	reg.nextFake--
	c = newFakeCarrier(reg.engine, reg.nextFake)
	reg.carriers[gid] = c
	return c
}

// Carriers returns a point-in-time snapshot of every bound carrier, ordered
// by carrier id - used for deterministic iteration in tests and by the
// work-stealing scan.
func (reg *CarrierRegistry) Carriers() []*Carrier {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Carrier, 0, len(reg.carriers))
	for _, c := range reg.carriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
