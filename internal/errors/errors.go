package errors

import (
	"fmt"
)

// MailError is the structured error type for the index engine. It
// carries enough context for logging and user presentation; most code
// still wraps with plain fmt.Errorf and only boundary layers build a
// MailError.
type MailError struct {
	// Code is the unique error code (e.g., "ERR_301_INDEX_CORRUPT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the subsystem the error belongs to.
	Category Category

	// Severity is how hard the caller should stop.
	Severity Severity

	// Details holds additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable reports whether the operation may succeed if retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *MailError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MailError) Unwrap() error {
	return e.Cause
}

// Is matches MailErrors by code so errors.Is works with sentinel
// instances.
func (e *MailError) Is(target error) bool {
	if t, ok := target.(*MailError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for
// chaining.
func (e *MailError) WithDetail(key, value string) *MailError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an operator-facing suggestion.
func (e *MailError) WithSuggestion(suggestion string) *MailError {
	e.Suggestion = suggestion
	return e
}

// New creates a MailError; category, severity, and retryability are
// derived from the code.
func New(code string, message string, cause error) *MailError {
	return &MailError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MailError from an existing error, reusing its message.
func Wrap(code string, err error) *MailError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IsRetryable reports whether err is a MailError marked retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MailError); ok {
		return me.Retryable
	}
	return false
}
