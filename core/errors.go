package core

import "errors"

// Sentinel errors for carrier/fiber lifecycle operations.
var (
	// ErrRejected is returned by Spawn once the owning Engine has begun
	// shutting down.
	ErrRejected = errors.New("core: spawn rejected, engine is shutting down")

	// ErrInvalidState is returned when an operation reaches a Carrier that
	// cannot support it - a fake carrier lazily built for a foreign
	// goroutine that was never bound by a WorkerPool has no Scheduler to
	// hand work to.
	ErrInvalidState = errors.New("core: invalid carrier state")

	// ErrFiberZombie names the state of a Fiber that has already exited. No
	// operation in this package returns it.
	ErrFiberZombie = errors.New("core: fiber already exited")

	// ErrShutdownRaised is the pending exception a shutting-down engine
	// raises into a fiber the next time it resumes from a park, unless that
	// fiber is the SHUTDOWN sentinel itself.
	ErrShutdownRaised = errors.New("core: engine is shutting down, fiber resumed into a pending exception")
)

// ShutdownTaskName is the sentinel fiber name exempt from both Spawn's
// shutdown rejection and the pending-exception raise on resume, so an
// engine-internal drain task can still run to completion while everything
// else is being torn down.
const ShutdownTaskName = "SHUTDOWN"

// StealResult enumerates the outcome of a Carrier.steal attempt.
type StealResult int

const (
	StealSuccess StealResult = iota
	StealFailByContention
	StealFailByStatus
)

func (r StealResult) String() string {
	switch r {
	case StealSuccess:
		return "success"
	case StealFailByContention:
		return "fail_by_contention"
	case StealFailByStatus:
		return "fail_by_status"
	default:
		return "unknown"
	}
}

// StealFailure wraps a non-success StealResult as an error. Carrier.steal
// reports its outcome as a plain StealResult; no code path in this package
// constructs a StealFailure.
type StealFailure struct {
	Result StealResult
}

func (e *StealFailure) Error() string {
	return "core: steal failed: " + e.Result.String()
}
