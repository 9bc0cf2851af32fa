// Package apperror defines the error kinds shared by every layer.
//
// ONE ERROR SHAPE, MANY KINDS:
// Services, repositories and upstream clients all return *AppError wrapping
// one of the sentinel kinds below. The HTTP layer maps the kind to a status
// code with errors.Is and shows Message to the caller. The underlying cause
// (a Mongo error, an HTTP status from Nylas, a context deadline) is kept in
// Cause for logging and never reaches the client.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	// ErrConflict: a write kept colliding with a concurrent one.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized: the caller's (email, token) pair is not a live session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamAuth: Nylas rejected the code or token we forwarded.
	ErrUpstreamAuth = errors.New("upstream authentication failed")
	// ErrUpstreamTimeout: a Nylas or LLM call ran past its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrInternal: anything else we cannot blame on the caller.
	ErrInternal = errors.New("internal error")
)

type AppError struct {
	Err     error  // error kind, one of the sentinels above
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string, cause error) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
		Cause:   cause,
	}
}

// Unauthorized is returned by session validation. The message is the one
// the web client already matches on.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "Unauthorized User!",
	}
}

func UpstreamAuth(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstreamAuth,
		Message: message,
		Cause:   cause,
	}
}

func UpstreamTimeout(service string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstreamTimeout,
		Message: fmt.Sprintf("%s did not respond in time", service),
		Cause:   cause,
	}
}

func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// Kind returns the sentinel kind carried by err, or ErrInternal when err
// is not an *AppError.
func Kind(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err
	}
	return ErrInternal
}
