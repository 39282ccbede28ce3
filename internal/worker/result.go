package worker

import (
	"errors"
	"fmt"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/github"
)

// FailureKind classifies why a run did not succeed.
type FailureKind string

const (
	KindNone FailureKind = "none"
	// KindNoChanges means the agent finished without touching the tree.
	KindNoChanges FailureKind = "no_changes"
	KindTimeout   FailureKind = "timeout"
	// KindTransition means the ticket could not be moved to the configured status.
	KindTransition FailureKind = "transition"
	// KindTransient covers unreachable or rate-limited tracker and hosting APIs.
	KindTransient FailureKind = "transient"
	KindFatal     FailureKind = "fatal"
)

// Result is the outcome of one ProcessTicket call.
type Result struct {
	Success        bool
	TicketKey      string
	Branch         string
	PullRequest    *github.PullRequest
	PreviewURL     string
	Error          string
	ChangesSummary string
	Kind           FailureKind
	StartedAt      time.Time
	Duration       time.Duration
	// Err is the underlying failure, kept for exit-code mapping.
	Err error
}

// PRURL returns the pull request URL or "".
func (r *Result) PRURL() string {
	if r.PullRequest == nil {
		return ""
	}
	return r.PullRequest.URL
}

// stepError records which workflow step failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

func failStep(step string, err error) error {
	return &stepError{step: step, err: err}
}

const stepTransition = "transition ticket"

func classify(err error) FailureKind {
	var se *stepError
	switch {
	case errors.Is(err, tferrors.ErrNoChanges):
		return KindNoChanges
	case tferrors.IsTimeout(err):
		return KindTimeout
	case errors.As(err, &se) && se.step == stepTransition:
		return KindTransition
	case tferrors.IsNetworkError(err):
		return KindTransient
	}
	return KindFatal
}
