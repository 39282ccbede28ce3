// Package errors provides centralized error types and exit codes for ticketflow.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Exit codes for different error categories.
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitConfigError     = 2
	ExitValidationError = 3
	ExitGitError        = 4
	ExitNetworkError    = 5
	ExitTrackerError    = 6
	ExitAgentError      = 7
	ExitNoChanges       = 8
)

// ErrNoChanges is returned when the coding agent finished without leaving
// uncommitted changes or new commits on the feature branch.
var ErrNoChanges = stderrors.New("no changes were made")

// Error is the base error type for all ticketflow errors.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message, including the cause if present.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code int, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// NewConfigError creates a new configuration error.
func NewConfigError(msg string) *Error {
	return newError(ExitConfigError, msg, nil)
}

// NewConfigErrorWithCause creates a new configuration error with an underlying cause.
func NewConfigErrorWithCause(msg string, cause error) *Error {
	return newError(ExitConfigError, msg, cause)
}

// NewValidationError creates a new validation error.
func NewValidationError(msg string) *Error {
	return newError(ExitValidationError, msg, nil)
}

// NewGitError creates a new git error.
func NewGitError(msg string) *Error {
	return newError(ExitGitError, msg, nil)
}

// NewGitErrorWithCause creates a new git error with an underlying cause.
func NewGitErrorWithCause(msg string, cause error) *Error {
	return newError(ExitGitError, msg, cause)
}

// NewNetworkError creates a new network error.
func NewNetworkError(msg string) *Error {
	return newError(ExitNetworkError, msg, nil)
}

// NewNetworkErrorWithCause creates a new network error with an underlying cause.
func NewNetworkErrorWithCause(msg string, cause error) *Error {
	return newError(ExitNetworkError, msg, cause)
}

// NewTrackerError creates an error for an issue-tracker API call that
// reached the server but was rejected.
func NewTrackerError(msg string) *Error {
	return newError(ExitTrackerError, msg, nil)
}

// NewTrackerErrorWithCause creates a tracker error with an underlying cause.
func NewTrackerErrorWithCause(msg string, cause error) *Error {
	return newError(ExitTrackerError, msg, cause)
}

// NewAgentErrorWithCause creates a coding-agent error with an underlying cause.
func NewAgentErrorWithCause(msg string, cause error) *Error {
	return newError(ExitAgentError, msg, cause)
}

// NewGeneralErrorWithCause creates a new general error with an underlying cause.
func NewGeneralErrorWithCause(msg string, cause error) *Error {
	return newError(ExitGeneralError, msg, cause)
}

// TransitionNotFoundError is returned when no workflow transition matches
// the requested name from the ticket's current status.
type TransitionNotFoundError struct {
	TicketKey string
	Name      string
	Available []string
}

func (e *TransitionNotFoundError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("transition %q not available for %s (available: %s)", e.Name, e.TicketKey, available)
}

// TimeoutError reports a subprocess that exceeded its allotted time.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	// Killed is true when the process ignored SIGTERM and had to be killed.
	Killed bool
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
	if e.Killed {
		msg += " (killed after grace period)"
	}
	return msg
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	return hasCode(err, ExitConfigError)
}

// IsGitError checks if an error is a git error.
func IsGitError(err error) bool {
	return hasCode(err, ExitGitError)
}

// IsNetworkError checks if an error is a network error.
func IsNetworkError(err error) bool {
	return hasCode(err, ExitNetworkError)
}

// IsTimeout reports whether err wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return stderrors.As(err, &te)
}

// IsTransitionNotFound reports whether err wraps a TransitionNotFoundError.
func IsTransitionNotFound(err error) bool {
	var tn *TransitionNotFoundError
	return stderrors.As(err, &tn)
}

func hasCode(err error, code int) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ExitCode returns the process exit code for an error.
// Errors that are not ticketflow errors map to ExitGeneralError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if stderrors.Is(err, ErrNoChanges) {
		return ExitNoChanges
	}
	if IsTimeout(err) {
		return ExitAgentError
	}
	if IsTransitionNotFound(err) {
		return ExitTrackerError
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ExitGeneralError
}
