package core

import (
	"context"
	"time"
)

// Yield cooperatively hands control from the currently running Fiber back
// to its Carrier if other work is waiting, continuing immediately if not.
// A no-op when called outside a Fiber.
func Yield(ctx context.Context) {
	fiber := CurrentFiber(ctx)
	if fiber == nil {
		return
	}
	fiber.Carrier().yield(fiber)
}

// Park suspends the currently running Fiber until something wakes it -
// Unpark, a TimerBinding, or event-pump readiness. A shutting-down engine
// re-raises a pending exception into the fiber as soon as it resumes, as a
// panic rather than through this return value; Park only returns a non-nil
// error when called outside a Fiber.
func Park(ctx context.Context) error {
	fiber := CurrentFiber(ctx)
	if fiber == nil {
		return ErrInvalidState
	}
	fiber.Carrier().park(fiber)
	return fiber.PendingException()
}

// ParkWithTimeout suspends the currently running Fiber until Unpark is
// called or d elapses, whichever happens first.
func ParkWithTimeout(ctx context.Context, d time.Duration) error {
	fiber := CurrentFiber(ctx)
	if fiber == nil {
		return ErrInvalidState
	}
	fiber.pendingDeadline = time.Now().Add(d)
	fiber.Carrier().park(fiber)
	return fiber.PendingException()
}

// Unpark wakes a parked fiber from outside its own goroutine - e.g. an I/O
// callback or another fiber completing the condition this one is waiting
// on. A no-op unless the fiber is currently parked.
func Unpark(fiber *Fiber) {
	if fiber == nil {
		return
	}
	owner := fiber.Carrier()
	if owner != nil {
		owner.wakeupTask(fiber)
	}
}
