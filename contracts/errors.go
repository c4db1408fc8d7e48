package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Connection establishment failures.
	ErrUnreachable    = errors.New("connect: endpoint unreachable")
	ErrAuthRejected   = errors.New("connect: credentials rejected")
	ErrConnectTimeout = errors.New("connect: timed out")

	// Call failures.
	ErrNotConnected   = errors.New("bridge: not connected")
	ErrCallTimeout    = errors.New("bridge: call timed out")
	ErrConnectionLost = errors.New("bridge: connection lost")

	// Poll failures.
	ErrPollTimeout   = errors.New("poll: overall timeout elapsed")
	ErrPollCancelled = errors.New("poll: cancelled")
)

// ConnectError describes a failed connection attempt. Err wraps one of
// ErrUnreachable, ErrAuthRejected or ErrConnectTimeout plus the transport
// cause, so callers can classify with errors.Is.
type ConnectError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("connect %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CallError describes a failed bridge call. Err wraps ErrNotConnected,
// ErrCallTimeout, ErrConnectionLost, a *ServerError or a *DecodeError.
type CallError struct {
	Method        string
	CorrelationID string
	Err           error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s (id=%s): %v", e.Method, e.CorrelationID, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ServerError is a failure the server reported through an error envelope.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

// DecodeError describes a frame that could not be decoded into a valid
// envelope. Offset is the byte offset of the syntax or type violation when
// the underlying JSON decoder reports one; Field names the envelope field
// that failed validation.
type DecodeError struct {
	Offset int64
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("decode envelope: field %q: %v", e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("decode envelope: field %q invalid", e.Field)
	case e.Offset > 0:
		return fmt.Sprintf("decode envelope: offset %d: %v", e.Offset, e.Err)
	default:
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TaskFailedError is returned by the task poller when the server reports the
// task reached the failed state.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// PollError describes a poll wait that ended without a completed task.
// Err wraps ErrPollTimeout, ErrPollCancelled, a *TaskFailedError, or the
// *CallError of a non-retryable transport failure. Attempts and Elapsed
// report how far polling got before giving up.
type PollError struct {
	TaskID   string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("await task %s (polls=%d, elapsed=%v): %v",
		e.TaskID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// IsAuthRejected reports whether err is an authentication failure anywhere in
// its chain. Auth failures are never retried.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}

// IsRetryableCall reports whether a failed call may be retried. Timeouts and
// transient transport failures are retryable; auth rejections and server
// faults are not.
func IsRetryableCall(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRejected) {
		return false
	}
	var srvErr *ServerError
	return !errors.As(err, &srvErr)
}
