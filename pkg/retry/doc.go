// Package retry provides exponential backoff retry logic with cooperative
// cancellation.
//
// Retries stop when the context is done, when the configured Abort check
// reports true, or when an error is not retryable. The Abort check exists for
// callers that signal shutdown through a flag rather than a context, such as
// sensor connect loops that must not rely on goroutine interruption.
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts:  5,
//	    InitialDelay: 200 * time.Millisecond,
//	    Abort:        fw.IsTerminating,
//	}, func() error {
//	    return sensor.Connect(ctx)
//	})
package retry
