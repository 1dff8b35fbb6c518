// Package errors provides standardized error handling patterns for SigStream.
//
// # Overview
//
// Errors are classified into three classes that drive pipeline behavior:
//
//   - Transient: temporary conditions such as a sensor that has not answered yet
//     or a window that is not in a buffer yet. The caller retries.
//   - Invalid: bad input or pipeline configuration, for example a consumer frame
//     larger than its upstream buffer. Detected at build time; never retried.
//   - Fatal: unrecoverable conditions such as a type accessor used on a stream
//     of a different element type. The owning component stops; siblings continue.
//
// # Usage
//
// Wrap errors with component context:
//
//	if err := sensor.Connect(ctx); err != nil {
//	    return errors.WrapTransient(err, "pipeline", "connectSensor", "sensor connect")
//	}
//
// Check the class:
//
//	if errors.IsInvalid(err) {
//	    // configuration problem, refuse to start
//	}
//
// The package re-exports Is, As and Join so callers need one errors import.
package errors
