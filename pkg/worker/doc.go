// Package worker provides Executor, the goroutine-per-task runner behind
// the pipeline.
//
// Pipeline stages are long-lived loops, not short jobs, so the executor is
// unbounded: each Submit starts one goroutine and there is no queue.
// Stop cancels the context every task received and waits, up to a timeout,
// for them to return. Tasks that ignore their context delay shutdown until
// that timeout.
//
//	exec, _ := worker.NewExecutor(
//		worker.WithLogger(logger),
//		worker.WithCompletionHandler(func(name string, err error) { ... }),
//	)
//	_ = exec.Start(ctx)
//	_ = exec.Submit("imu.acc", runChannel)
//	...
//	if err := exec.Stop(5 * time.Second); errors.Is(err, worker.ErrStopTimeout) { ... }
//
// A panic inside a task is recovered, logged with its stack and reported to
// the completion handler as ErrTaskPanicked. It never takes down sibling
// tasks.
package worker
