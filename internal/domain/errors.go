// Package domain provides the canonical types and error taxonomy for the twin gateway.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a turn error.
type ErrorKind string

const (
	// ErrorKindValidation indicates a blank or otherwise unusable user message.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindConfiguration indicates the remote service rejected the call
	// because the caller omitted a mandatory parameter. Never retried.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindConnectivity indicates the remote service could not be reached.
	ErrorKindConnectivity ErrorKind = "connectivity"

	// ErrorKindRemoteService indicates a non-2xx or malformed remote response.
	ErrorKindRemoteService ErrorKind = "remote_service"

	// ErrorKindParse indicates a single stream block could not be decoded.
	ErrorKindParse ErrorKind = "parse"

	// ErrorKindExecution indicates the action executor failed.
	ErrorKindExecution ErrorKind = "execution"
)

// Sentinel errors usable with errors.Is against any *Error of the same kind.
var (
	ErrValidation    = &Error{Kind: ErrorKindValidation}
	ErrConfiguration = &Error{Kind: ErrorKindConfiguration}
	ErrConnectivity  = &Error{Kind: ErrorKindConnectivity}
	ErrRemoteService = &Error{Kind: ErrorKindRemoteService}
	ErrParse         = &Error{Kind: ErrorKindParse}
	ErrExecution     = &Error{Kind: ErrorKindExecution}
)

// Error is the canonical error surfaced by the core components.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param names the missing parameter for configuration errors
	Param string `json:"param,omitempty"`

	// StatusCode is the upstream HTTP status, when one was received
	StatusCode int `json:"-"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Param != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Param, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Recoverable reports whether a local fallback may be attempted after this error.
func (e *Error) Recoverable() bool {
	return e.Kind == ErrorKindConnectivity || e.Kind == ErrorKindRemoteService
}

// HTTPStatusCode returns the HTTP status code the gateway should answer with.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindConnectivity, ErrorKindRemoteService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithParam records the offending parameter name.
func (e *Error) WithParam(param string) *Error {
	e.Param = param
	return e
}

// WithStatusCode records the upstream status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// Convenience constructors

// ErrValidationf creates a validation error.
func ErrValidationf(format string, args ...any) *Error {
	return NewError(ErrorKindValidation, fmt.Sprintf(format, args...))
}

// ErrConfigurationParam creates a configuration error for a missing caller parameter.
func ErrConfigurationParam(param, message string) *Error {
	return NewError(ErrorKindConfiguration, message).WithParam(param)
}

// ErrConnectivityCause wraps a transport failure.
func ErrConnectivityCause(message string, err error) *Error {
	return NewError(ErrorKindConnectivity, message).WithCause(err)
}

// ErrRemoteServicef creates a remote service error.
func ErrRemoteServicef(format string, args ...any) *Error {
	return NewError(ErrorKindRemoteService, fmt.Sprintf(format, args...))
}

// ErrExecutionf creates an execution error.
func ErrExecutionf(format string, args ...any) *Error {
	return NewError(ErrorKindExecution, fmt.Sprintf(format, args...))
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
