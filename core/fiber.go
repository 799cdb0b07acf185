package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wisprt/go-carrier/internal/fiberctx"
)

// FiberStatus is the lifecycle state of a Fiber.
type FiberStatus int32

const (
	// FiberRunnable means the fiber is executing or queued to execute next.
	FiberRunnable FiberStatus = iota
	// FiberParked means the fiber has yielded and is waiting to be resumed,
	// either by a timer, an event-pump notification, or an explicit wakeup.
	FiberParked
	// FiberZombie means the fiber's target Task has returned or panicked,
	// and it is eligible to be reset and recycled.
	FiberZombie
)

func (s FiberStatus) String() string {
	switch s {
	case FiberRunnable:
		return "runnable"
	case FiberParked:
		return "parked"
	case FiberZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

type fiberKeyType struct{}

var fiberKey fiberKeyType

// Fiber is a lightweight coroutine bound to at most one Carrier at a time.
// It runs a single Task closure; parking and resuming it is the unit of
// work the scheduler moves between Carriers. A Fiber that exits is not
// discarded - it is reset(...) and handed back to a cache for reuse rather
// than reallocated on the next spawn.
type Fiber struct {
	id     TaskID
	name   string
	traits TaskTraits

	ctx *fiberctx.Context

	status atomic.Int32

	mu      sync.Mutex // guards carrier, taken by steal
	carrier *Carrier

	parent       *Fiber
	isThreadTask bool

	// stealLock is non-zero while this fiber has just been marked parked but
	// has not yet safely finished switching out - a stealing carrier must
	// busy-wait for it to clear before it is safe to resume this fiber from
	// anywhere else. Cleared by the resuming carrier only once the park
	// handshake genuinely completes (see Carrier.resumeFiber).
	stealLock atomic.Int32

	// claimed mediates contention between two carriers racing to steal the
	// same parked fiber: whichever flips it false->true first proceeds: the
	// other reports StealFailByContention instead of racing the ownership
	// reassignment.
	claimed atomic.Bool

	resumeEntry *ResumeEntry

	// parkCount and stealCount track this fiber's own lifecycle across
	// however many carriers it visits over its lifetime, independent of any
	// single carrier's aggregate stats - TaskHistory reads these at
	// completion to record a Fiber's full journey, not just its wall time.
	parkCount  atomic.Int32
	stealCount atomic.Int32

	enqueueTime time.Time

	// pendingDeadline is set by ParkWithTimeout before the fiber parks, and
	// consumed by the resuming Carrier's epilog after the switch completes.
	// Registering the timer only after switch-out finishes keeps a steal
	// from racing a still-parking stack - see Carrier.resumeFiber.
	pendingDeadline time.Time
	timer           *TimerBinding

	eventCancel func()

	pendingErr error
}

// newFiber allocates a brand new Fiber (the cache-miss path of Spawn).
func newFiber(target Task, traits TaskTraits, parent *Fiber, name string, baseCtx context.Context) *Fiber {
	f := &Fiber{traits: traits}
	f.ctx = fiberctx.New()
	f.reset(target, parent, name, baseCtx)
	return f
}

// reset reconfigures a Fiber (fresh or recycled from a cache) to run
// target, assigning it a new id and parent link.
func (f *Fiber) reset(target Task, parent *Fiber, name string, baseCtx context.Context) {
	f.id = GenerateTaskID()
	f.name = name
	f.parent = parent
	f.status.Store(int32(FiberRunnable))
	f.enqueueTime = time.Time{}
	f.pendingDeadline = time.Time{}
	f.timer = nil
	f.pendingErr = nil
	f.resumeEntry = nil
	f.eventCancel = nil
	f.stealLock.Store(0)
	f.claimed.Store(false)
	f.parkCount.Store(0)
	f.stealCount.Store(0)

	fiber := f
	f.ctx.Reset(func(rc *fiberctx.Context) {
		taskCtx := context.WithValue(baseCtx, fiberKey, fiber)
		defer func() {
			// A shutdown raise unwinds the body; the fiber then exits
			// through taskExit like any other finished fiber.
			if r := recover(); r != nil && r != ErrShutdownRaised {
				panic(r)
			}
		}()
		target(taskCtx)
	})
}

// ID returns the fiber's process-unique identifier.
func (f *Fiber) ID() TaskID { return f.id }

// Name returns the fiber's diagnostic name: the name passed to Spawn, or ""
// if none was given.
func (f *Fiber) Name() string { return f.name }

// Status returns the fiber's current lifecycle state.
func (f *Fiber) Status() FiberStatus { return FiberStatus(f.status.Load()) }

// Parent returns the Fiber that spawned this one, or nil for a thread-task
// sentinel or a root spawn.
func (f *Fiber) Parent() *Fiber { return f.parent }

// Carrier returns the Carrier this fiber is currently bound to.
func (f *Fiber) Carrier() *Carrier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carrier
}

func (f *Fiber) setCarrier(c *Carrier) {
	f.mu.Lock()
	f.carrier = c
	f.mu.Unlock()
}

// ParkCount returns the number of times this fiber has parked (via Park,
// ParkWithTimeout, or a cooperative Yield) since it was last spawned.
func (f *Fiber) ParkCount() int { return int(f.parkCount.Load()) }

// StealCount returns the number of times this fiber has been moved from one
// carrier to another by a steal since it was last spawned.
func (f *Fiber) StealCount() int { return int(f.stealCount.Load()) }

// PendingException returns the error a shutting-down engine wants re-raised
// the next time this fiber is resumed, consuming it in the process.
func (f *Fiber) PendingException() error {
	err := f.pendingErr
	f.pendingErr = nil
	return err
}

// CurrentFiber returns the Fiber whose body is running on the calling
// goroutine, or nil if none (e.g. the carrier's own run loop).
func CurrentFiber(ctx context.Context) *Fiber {
	if v := ctx.Value(fiberKey); v != nil {
		return v.(*Fiber)
	}
	return nil
}
