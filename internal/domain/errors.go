package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures so callers can pick a retry policy.
type ErrorKind string

const (
	// KindInvalidArgument marks bad input; never retried.
	KindInvalidArgument ErrorKind = "InvalidArgument"
	// KindUnauthenticated marks a missing or rejected credential; never retried.
	KindUnauthenticated ErrorKind = "Unauthenticated"
	// KindRequestTimeout marks a single network call that exceeded its deadline.
	KindRequestTimeout ErrorKind = "RequestTimeout"
	// KindTransportError marks network or protocol level failures.
	KindTransportError ErrorKind = "TransportError"
	// KindRemoteFailure marks a business error reported by the remote side.
	KindRemoteFailure ErrorKind = "RemoteFailure"
	// KindPollTimeout marks an exhausted polling budget while still Running.
	// The outcome is unknown, not failed.
	KindPollTimeout ErrorKind = "PollTimeout"
	// KindCancelled marks a remote cancellation or an aborted caller context.
	KindCancelled ErrorKind = "Cancelled"
)

// Sentinels usable with errors.Is against any *ExecutionError of that kind.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrTransport       = errors.New("transport error")
	ErrRemoteFailure   = errors.New("remote workflow failed")
	ErrPollTimeout     = errors.New("polling budget exhausted")
	ErrCancelled       = errors.New("execution cancelled")
)

// Storage errors shared by the key/value backends.
var (
	// ErrStorageFull is returned when a write would exceed the storage quota.
	ErrStorageFull = errors.New("storage quota exceeded")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// LocalErrorCode is the code recorded for failures that never reached a
// remote business error.
const LocalErrorCode = -1

var kindSentinels = map[ErrorKind]error{
	KindInvalidArgument: ErrInvalidArgument,
	KindUnauthenticated: ErrUnauthenticated,
	KindRequestTimeout:  ErrRequestTimeout,
	KindTransportError:  ErrTransport,
	KindRemoteFailure:   ErrRemoteFailure,
	KindPollTimeout:     ErrPollTimeout,
	KindCancelled:       ErrCancelled,
}

// ExecutionError is the structured error produced by the workflow client.
type ExecutionError struct {
	Kind        ErrorKind
	Code        int
	Message     string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.Kind == KindRemoteFailure {
		return fmt.Sprintf("%s: code %d: %s", e.Kind, e.Code, msg)
	}
	if msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel, so errors.Is(err, ErrPollTimeout) works.
func (e *ExecutionError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// NewExecutionError builds an error of the given kind.
func NewExecutionError(kind ErrorKind, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Code: LocalErrorCode, Message: fmt.Sprintf(format, args...)}
}

// WrapExecutionError builds an error of the given kind around cause.
func WrapExecutionError(kind ErrorKind, cause error, format string, args ...any) *ExecutionError {
	return &ExecutionError{Kind: kind, Code: LocalErrorCode, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the ErrorKind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

// Retryable reports whether re-running the whole execution may help.
func (k ErrorKind) Retryable() bool {
	return k == KindTransportError || k == KindRequestTimeout
}
