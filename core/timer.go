package core

import (
	"sync"
	"time"
)

// TimerBinding ties a parked Fiber to a pending wakeup. Depending on
// Config.HighPrecisionTimer it is backed either by a dedicated
// time.AfterFunc timer or by an entry in its owning Carrier's coarse,
// low-precision wheel.
type TimerBinding struct {
	mu       sync.Mutex
	fiber    *Fiber
	deadline time.Time
	fired    bool
	canceled bool

	afterFunc *time.Timer // set only in high-precision mode
	wheelItem *wheelItem  // set only in low-precision mode
}

// Cancel stops the pending wakeup. It returns false if the timer already
// fired or was already canceled.
func (t *TimerBinding) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.canceled {
		return false
	}
	t.canceled = true
	if t.afterFunc != nil {
		t.afterFunc.Stop()
	}
	if t.wheelItem != nil {
		t.wheelItem.carrier.wheel.remove(t.wheelItem)
	}
	return true
}

func (t *TimerBinding) fire() {
	t.mu.Lock()
	if t.fired || t.canceled {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fiber := t.fiber
	t.mu.Unlock()

	owner := fiber.Carrier()
	if owner != nil {
		owner.wakeupTask(fiber)
	}
}

// scheduleTimer registers a wakeup for fiber at deadline, honoring the
// carrier's configured timer precision. Called from a Carrier's epilog
// (Carrier.resumeFiber), after the fiber has fully parked, so a steal
// cannot race a still-parking stack - see Fiber.pendingDeadline.
func (c *Carrier) scheduleTimer(fiber *Fiber, deadline time.Time) *TimerBinding {
	tb := &TimerBinding{fiber: fiber, deadline: deadline}

	if c.engine.config.HighPrecisionTimer || fiber.isThreadTask {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		tb.afterFunc = time.AfterFunc(d, tb.fire)
		return tb
	}

	c.wheel.add(tb)
	return tb
}
