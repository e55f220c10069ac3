package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the common error shape for provider failures.
//
// Adapters translate provider-specific errors into Error so callers can
// handle them uniformly. The Transient flag feeds the engine's retry
// decision through the Retryable method.
type Error struct {
	// Provider names the adapter that produced the error ("anthropic",
	// "openai", "google", "groq").
	Provider string

	// Code classifies the failure, usually the HTTP status.
	Code string

	// Message is a human-readable description.
	Message string

	// Transient marks failures worth retrying (rate limits, overload,
	// network problems). Authentication and bad-request errors are not.
	Transient bool

	// Cause is the underlying provider error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying. The pipeline
// engine checks for this method when deciding whether to re-run a node.
func (e *Error) Retryable() bool {
	return e.Transient
}

// ClassifyStatus builds an Error from an HTTP status code, marking rate
// limits and server-side failures as transient.
func ClassifyStatus(provider string, status int, cause error) *Error {
	transient := status == http.StatusTooManyRequests || status >= 500
	msg := http.StatusText(status)
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Provider:  provider,
		Code:      fmt.Sprintf("%d", status),
		Message:   msg,
		Transient: transient,
		Cause:     cause,
	}
}

// IsTransient reports whether err is (or wraps) a transient provider error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient
}
