package autoscaledpool

import "context"

// Task is a unit of work started by RunTaskFunction. A Task is expected
// to block until the work is done; its return value is wrapped into a
// fatal pool failure if non-nil.
type Task func(ctx context.Context) error

// RunTaskFunction is an async factory: it returns a Task to run, or a
// nil Task if no work is currently ready. A nil Task with a nil error
// is not a failure — it simply means "nothing to do on this attempt"
// and the pool falls through to isFinishedFunction.
type RunTaskFunction func(ctx context.Context) (Task, error)

// IsFinishedFunction is an async predicate; when it returns true AND no
// tasks are running, the pool completes. A nil IsFinishedFunction makes
// the pool complete as soon as runningCount reaches zero.
type IsFinishedFunction func(ctx context.Context) (bool, error)

// IsTaskReadyFunction is an async predicate gating RunTaskFunction. A
// nil IsTaskReadyFunction behaves as always-true.
type IsTaskReadyFunction func(ctx context.Context) (bool, error)

// RunStats is a point-in-time snapshot of AutoscaledPool's scheduling
// state, exported over /metrics and logged on LOG_INFO_INTERVAL ticks.
type RunStats struct {
	Concurrency int
	RunningCount int
	TickCounter int
}
