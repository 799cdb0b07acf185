package core

import "sync/atomic"

// ResumeEntry is a single-shot dispatch closure for a parked (or newly
// spawned) Fiber. It is enqueued on a Carrier's run queue and, when pulled
// off by a worker goroutine, resumes the fiber exactly once - stealing it
// from its current owner first if the dispatching carrier differs.
//
// A steal attempt that fails for a reason other than lock contention
// disables further steal attempts for this entry, falling back to running
// the fiber on its home carrier.
type ResumeEntry struct {
	fiber  *Fiber
	source *Carrier

	stealEnable atomic.Bool
}

func newResumeEntry(fiber *Fiber, source *Carrier) *ResumeEntry {
	e := &ResumeEntry{fiber: fiber, source: source}
	e.stealEnable.Store(true)
	return e
}

// Dispatch runs on whichever carrier's worker goroutine pulled this entry
// off a run queue.
func (e *ResumeEntry) Dispatch(current *Carrier) {
	owner := e.fiber.Carrier()

	if owner == current {
		current.resumeFiber(e.fiber)
		return
	}

	if e.stealEnable.Load() {
		result := current.steal(e.fiber)
		if result == StealSuccess {
			// The steal just emptied owner of this fiber. If owner's worker
			// handed itself off and has no other work left, it is stuck
			// blocked on handoffSignal with nothing left to run - wake it so
			// it can exit.
			if owner.hasBeenHandoff.Load() && owner.QueueLength() == 0 && owner.RunningTaskCount() == 0 {
				owner.signal()
			}
			current.resumeFiber(e.fiber)
			return
		}
		if result != StealFailByContention {
			e.stealEnable.Store(false)
		}
	}

	// Steal disabled or unsuccessful: hand the entry back to the fiber's
	// actual owner rather than spinning here.
	owner.enqueueResume(e)
}
