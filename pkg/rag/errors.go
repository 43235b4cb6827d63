package rag

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure that crosses the service boundary.
// Adapters must convert backend-native errors into one of these before
// returning; no backend error type escapes.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "invalid_input"
	KindNotFound           ErrorKind = "not_found"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindBackendRejected    ErrorKind = "backend_rejected"
	KindUnsupportedMethod  ErrorKind = "unsupported_method"
)

// Error is the only error type returned by RagService operations.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error without a cause.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError classifies an underlying cause.
func WrapError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the classification from err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

// KindFromStatus maps an HTTP status code from a backend to an ErrorKind.
// 5xx means the backend is unavailable and the call is retryable by the
// caller; other 4xx mean the backend understood and refused.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindBackendUnavailable
	case status >= 400:
		return KindBackendRejected
	default:
		return KindBackendUnavailable
	}
}
