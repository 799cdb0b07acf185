package core

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// TaskID uniquely identifies a posted Task or spawned Fiber for the
// lifetime of the process. IDs are assigned monotonically and never reused.
type TaskID uint64

var taskIDCounter atomic.Uint64

// GenerateTaskID returns the next TaskID in the process-wide sequence.
func GenerateTaskID() TaskID {
	return TaskID(taskIDCounter.Add(1))
}

func (id TaskID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// =============================================================================
// TaskTraits: Define task attributes (priority, blocking behavior, etc.)
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority
	// `UserBlocking` means the task may block the main thread.
	// If main thread is blocked, the UI will be unresponsive.
	// The user experience will be affected if the task blocks the main thread.
	TaskPriorityUserBlocking
)

type TaskTraits struct {
	Priority TaskPriority
	MayBlock bool
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

func TraitsUserVisible() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

// =============================================================================
// RepeatingTaskHandle: Controls the lifecycle of a repeating task
// =============================================================================
type RepeatingTaskHandle interface {
	// Stop prevents any future execution of the repeating task.
	Stop()
	// IsStopped reports whether Stop has been called.
	IsStopped() bool
}

// =============================================================================
// TaskWithResult / ReplyWithResult: Generic PostTaskAndReply pattern
// =============================================================================

// TaskWithResult is a unit of work that produces a result and an error.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the result produced by a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================
type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration)

	// [v2.1 New] Support delayed tasks with specific traits
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits)

	// Shutdown closes the runner; a task may call it on its own runner.
	Shutdown()
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
