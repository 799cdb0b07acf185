package core

import "time"

// TaskExecutionRecord captures a completed task execution event, including
// the Fiber lifecycle the underlying closure actually rode on - not just
// its wall-clock start and stop.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	RunnerName string
	RunnerType string
	Priority   TaskPriority
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool

	// FiberID, ParkCount, StealCount, and CarrierID are zero-valued when the
	// task ran with no Fiber in context (e.g. outside any Carrier).
	FiberID    TaskID
	ParkCount  int
	StealCount int
	CarrierID  int64
}

// RunnerStats represents runtime observability state for a task runner.
type RunnerStats struct {
	Name           string
	Type           string
	Pending        int
	Running        int
	Rejected       int64
	Closed         bool
	BarrierPending bool
	LastTaskName   string
	LastTaskAt     time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Delayed int
	Running bool
}
