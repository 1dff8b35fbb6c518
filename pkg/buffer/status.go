package buffer

import (
	"fmt"

	"github.com/c360/sigstream/errors"
)

// Status is the outcome of a TimeBuffer read.
type Status int

const (
	// StatusOK means the window was copied.
	StatusOK Status = iota
	// StatusInputArrayTooSmall means the destination cannot hold the window.
	StatusInputArrayTooSmall
	// StatusDataExceedsBufferSize means the window is longer than the buffer
	// and can never be served.
	StatusDataExceedsBufferSize
	// StatusDataNotInBufferYet means the window ends after the write cursor.
	// Retry later.
	StatusDataNotInBufferYet
	// StatusDataNotInBufferAnymore means the window starts before the oldest
	// retained sample.
	StatusDataNotInBufferAnymore
	// StatusDurationTooSmall means the window rounds to zero samples.
	StatusDurationTooSmall
	// StatusDurationTooLarge means the window is not a finite sample count.
	StatusDurationTooLarge
	// StatusUnknownData means the window starts before the first sample.
	StatusUnknownData
	// StatusError means the buffer is closed.
	StatusError

	numStatus
)

var statusNames = [numStatus]string{
	StatusOK:                     "ok",
	StatusInputArrayTooSmall:     "input_array_too_small",
	StatusDataExceedsBufferSize:  "data_exceeds_buffer_size",
	StatusDataNotInBufferYet:     "data_not_in_buffer_yet",
	StatusDataNotInBufferAnymore: "data_not_in_buffer_anymore",
	StatusDurationTooSmall:       "duration_too_small",
	StatusDurationTooLarge:       "duration_too_large",
	StatusUnknownData:            "unknown_data",
	StatusError:                  "error",
}

// String returns the snake_case status name used in logs and metric labels.
func (s Status) String() string {
	if s >= 0 && s < numStatus {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Retryable reports whether the same request may succeed later.
func (s Status) Retryable() bool {
	return s == StatusDataNotInBufferYet
}

// Err maps the status onto the classified error taxonomy. StatusOK is nil.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusDataNotInBufferYet:
		return errors.WrapTransient(errors.ErrDataNotAvailable, "TimeBuffer", "Get", s.String())
	case StatusDataNotInBufferAnymore:
		return errors.WrapInvalid(errors.ErrDataExpired, "TimeBuffer", "Get", s.String())
	case StatusDataExceedsBufferSize:
		return errors.WrapInvalid(errors.ErrWindowTooLarge, "TimeBuffer", "Get", s.String())
	case StatusError:
		return errors.WrapFatal(errors.ErrBufferClosed, "TimeBuffer", "Get", s.String())
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "TimeBuffer", "Get", s.String())
	}
}
