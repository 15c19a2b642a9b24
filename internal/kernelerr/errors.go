// Package kernelerr implements the kernel's error taxonomy (spec 7).
//
// Every error that can cross the IPC boundary is a *KernelError* carrying one
// of the fixed Code values below plus a human-readable message. Clients match
// on Code, never on the message (spec 7, "User-visible failure behaviour").
//
// Grounded on the gRPC syscall-boundary error builders in
// coreengine/grpc/validation.go (InvalidArgument/NotFound/Internal/
// FailedPrecondition/ResourceExhausted/PermissionDenied) generalized from
// gRPC status codes to a transport-agnostic Code, since the IPC boundary is
// no longer gRPC (spec 6.1).
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is one of the fixed error taxonomy values from spec 7.
type Code string

const (
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeNotFound                Code = "NOT_FOUND"
	CodeInvalidStateTransition  Code = "INVALID_STATE_TRANSITION"
	CodeQuotaExceeded           Code = "QUOTA_EXCEEDED"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeNoHandler               Code = "NO_HANDLER"
	CodeTimeout                 Code = "TIMEOUT"
	CodeAlreadyExists           Code = "ALREADY_EXISTS"
	CodeInternal                Code = "INTERNAL"
)

// KernelError is the single error type that crosses the IPC boundary.
type KernelError struct {
	Code    Code
	Message string
	cause   error
}

func (e *KernelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause, if any.
func (e *KernelError) Unwrap() error { return e.cause }

func newErr(code Code, msg string) *KernelError {
	return &KernelError{Code: code, Message: msg}
}

// InvalidArgument reports a precondition violation (missing field, negative
// usage delta, oversized frame).
func InvalidArgument(msg string) *KernelError { return newErr(CodeInvalidArgument, msg) }

// NotFound reports that a pid/envelope/interrupt/session id does not exist.
func NotFound(resource, id string) *KernelError {
	return newErr(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// InvalidStateTransition reports an FSM transition that is not allowed from
// the PCB's current state.
func InvalidStateTransition(resource string, from, to fmt.Stringer) *KernelError {
	return newErr(CodeInvalidStateTransition,
		fmt.Sprintf("%s: invalid transition %s -> %s", resource, from, to))
}

// QuotaExceeded reports that a single resource dimension is at or above its
// limit; dimension is the §3.4 name of the exceeded quota.
func QuotaExceeded(dimension string) *KernelError {
	return newErr(CodeQuotaExceeded, fmt.Sprintf("quota exceeded: %s", dimension))
}

// RateLimited reports admission denial by the rate limiter.
func RateLimited(retryAfterSeconds float64) *KernelError {
	return newErr(CodeRateLimited, fmt.Sprintf("rate limited, retry after %.3fs", retryAfterSeconds))
}

// NoHandler reports a command/query with no registered handler.
func NoHandler(name string) *KernelError {
	return newErr(CodeNoHandler, fmt.Sprintf("no handler registered: %s", name))
}

// Timeout reports a query that expired or stalled IPC I/O.
func Timeout(msg string) *KernelError { return newErr(CodeTimeout, msg) }

// AlreadyExists reports a duplicate pid on CreateProcess, or
// InitializeSession without force on an existing session.
func AlreadyExists(resource, id string) *KernelError {
	return newErr(CodeAlreadyExists, fmt.Sprintf("%s already exists: %s", resource, id))
}

// Internal wraps a caught panic or unexpected subsystem condition.
func Internal(operation string, cause error) *KernelError {
	e := newErr(CodeInternal, fmt.Sprintf("%s failed", operation))
	e.cause = cause
	return e
}

// CodeOf extracts the Code from err if it is (or wraps) a *KernelError,
// returning CodeInternal for anything else — the IPC boundary must never
// leak an un-coded error to a caller.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return CodeInternal
}
