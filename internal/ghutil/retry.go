// Package ghutil runs gh CLI commands with retry on transient failures.
package ghutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/silver2dream/ticketflow/internal/logger"
)

// RetryConfig holds retry parameters for gh CLI calls.
type RetryConfig struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 2s
	MaxDelay    time.Duration // default 30s
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration
	// Dir is the working directory; gh infers the repository from it.
	Dir string
	Log *logger.Logger
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// CommandError is a failed command with its captured stderr.
type CommandError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s failed: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsRetryable checks if a gh CLI error is worth retrying.
// It returns false for auth/validation errors and true for transient failures
// such as rate limits, network issues, and server errors.
func IsRetryable(output string, exitCode int) bool {
	// Never retry auth or validation errors
	nonRetryable := []string{
		"authentication", "auth", "login",
		"not found", "404",
		"422", "validation failed",
		"already exists",
	}
	lower := strings.ToLower(output)
	for _, s := range nonRetryable {
		if strings.Contains(lower, s) {
			return false
		}
	}

	// Retry on rate limit, network, server errors
	retryable := []string{
		"rate limit", "rate_limit", "403",
		"500", "502", "503", "504",
		"timeout", "timed out",
		"connection refused", "connection reset",
		"no such host", "network",
		"eagain", "temporary failure",
	}
	for _, s := range retryable {
		if strings.Contains(lower, s) {
			return true
		}
	}

	// Also retry generic non-zero exit (could be transient)
	return exitCode != 0
}

// Delay returns the backoff before retrying after the given attempt (1-based).
func (cfg RetryConfig) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// RunWithRetry executes a command with exponential backoff retry and
// returns its stdout. Non-retryable errors are returned immediately
// without further attempts. Failures are *CommandError.
func RunWithRetry(ctx context.Context, cfg RetryConfig, name string, args ...string) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}

	var lastErr *CommandError
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		stdout, err := runOnce(ctx, cfg, name, args...)
		if err == nil {
			return stdout, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err.Stderr, err.ExitCode) {
			return stdout, err
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.Delay(attempt)
			log.Warn("%s failed (attempt %d/%d), retrying in %v: %s",
				name, attempt, cfg.MaxAttempts, delay, strings.TrimSpace(err.Stderr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

func runOnce(ctx context.Context, cfg RetryConfig, name string, args ...string) ([]byte, *CommandError) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cfg.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	cmdErr := &CommandError{
		Args:     append([]string{name}, args...),
		Stderr:   stderr.String(),
		ExitCode: 1,
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		cmdErr.Stderr += "\ncommand timed out"
	}
	return stdout.Bytes(), cmdErr
}
