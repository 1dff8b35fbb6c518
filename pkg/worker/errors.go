package worker

import "errors"

// Sentinel errors for executor operations
var (
	// ErrNotStarted indicates Submit before Start
	ErrNotStarted = errors.New("executor not started")

	// ErrStopped indicates Submit after Stop
	ErrStopped = errors.New("executor stopped")

	// ErrAlreadyStarted indicates a second Start
	ErrAlreadyStarted = errors.New("executor already started")

	// ErrNilTask indicates a nil task function
	ErrNilTask = errors.New("task function cannot be nil")

	// ErrStopTimeout indicates tasks were still running when the await timeout elapsed
	ErrStopTimeout = errors.New("timeout waiting for tasks to finish")

	// ErrTaskPanicked wraps a recovered panic
	ErrTaskPanicked = errors.New("task panicked")
)
