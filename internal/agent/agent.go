// Package agent runs the AI coding agent as a subprocess for one ticket.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
)

// Defaults for Runner timing.
const (
	DefaultTimeout = 30 * time.Minute
	DefaultGrace   = 10 * time.Second
)

// maxErrorText caps the stderr carried in a failed Result.
const maxErrorText = 4000

// Result is the outcome of one agent run.
type Result struct {
	Success  bool
	Output   string
	Error    string
	ExitCode int
	Duration time.Duration
}

// Runner starts the agent command with the ticket prompt on stdin.
type Runner struct {
	Command string
	Args    []string
	Timeout time.Duration
	// Grace is how long the process gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// UsePTY runs the agent on a pseudo-terminal. The prompt is then passed
	// as the last argument and stdout and stderr arrive merged. Platforms
	// without pty support fall back to pipes.
	UsePTY bool

	// AttachmentsRoot holds one directory of downloaded files per ticket key.
	AttachmentsRoot string
	Instructions    string

	// Stdout and Stderr receive the live output. Nil means os.Stdout / os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	Log    *logger.Logger
}

// WorkTicket builds the prompt for ticket and runs the agent in workDir.
// A non-zero exit returns a Result with Success false and the captured
// stderr. A timeout returns a *errors.TimeoutError after the process has
// been terminated.
func (r *Runner) WorkTicket(ctx context.Context, ticket *jira.Ticket, ticketURL, workDir, extraContext string) (*Result, error) {
	in := PromptInput{
		Ticket:       ticket,
		TicketURL:    ticketURL,
		Instructions: r.Instructions,
		ExtraContext: extraContext,
	}
	if r.AttachmentsRoot != "" {
		in.AttachmentsDir = filepath.Join(r.AttachmentsRoot, ticket.Key)
	}
	return r.Run(ctx, workDir, BuildPrompt(in))
}

// Run executes the agent with prompt in dir.
func (r *Runner) Run(ctx context.Context, dir, prompt string) (*Result, error) {
	if _, err := exec.LookPath(r.Command); err != nil {
		return nil, tferrors.NewAgentErrorWithCause(fmt.Sprintf("agent command %q not found in PATH", r.Command), err)
	}
	log := r.Log
	if log == nil {
		log = logger.Discard()
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	usePTY := r.UsePTY && ptySupported
	if r.UsePTY && !usePTY {
		log.Warn("pty mode is not available on this platform, running the agent on pipes")
	}

	args := append([]string{}, r.Args...)
	if usePTY {
		args = append(args, prompt)
	}
	cmd := exec.Command(r.Command, args...)
	cmd.Dir = dir
	// Wait returns this long after exit even if a grandchild still holds the pipes.
	cmd.WaitDelay = grace

	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var outBuf, errBuf bytes.Buffer
	var copyDone chan struct{}
	start := time.Now()

	if usePTY {
		out, err := startPTY(cmd)
		if err != nil {
			return nil, tferrors.NewAgentErrorWithCause("failed to start agent on a pty", err)
		}
		defer out.Close()
		copyDone = make(chan struct{})
		go func() {
			// Reading a pty whose child exited fails with EIO on Linux; that is the normal end.
			_, _ = io.Copy(io.MultiWriter(&outBuf, stdout), out)
			close(copyDone)
		}()
	} else {
		live := &lockedWriter{w: stdout}
		liveErr := live
		if stderr != stdout {
			liveErr = &lockedWriter{w: stderr}
		}
		cmd.Stdin = strings.NewReader(prompt)
		cmd.Stdout = io.MultiWriter(&outBuf, live)
		cmd.Stderr = io.MultiWriter(&errBuf, liveErr)
		setProcessGroup(cmd)
		if err := cmd.Start(); err != nil {
			return nil, tferrors.NewAgentErrorWithCause("failed to start agent", err)
		}
	}
	log.Debug("agent started (pid %d, timeout %s)", cmd.Process.Pid, timeout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	var stopErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		killed := r.stop(cmd, done, grace, log)
		stopErr = &tferrors.TimeoutError{Operation: "agent", Timeout: timeout, Killed: killed}
	case <-ctx.Done():
		r.stop(cmd, done, grace, log)
		stopErr = ctx.Err()
	}
	if copyDone != nil {
		select {
		case <-copyDone:
		case <-time.After(grace):
		}
	}

	result := &Result{
		Output:   outBuf.String(),
		Duration: time.Since(start),
	}
	if stopErr != nil {
		result.ExitCode = -1
		result.Error = stopErr.Error()
		return result, stopErr
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, tferrors.NewAgentErrorWithCause("agent did not finish", waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Error = failureText(errBuf.String(), outBuf.String(), result.ExitCode)
		return result, nil
	}

	result.Success = true
	return result, nil
}

// stop sends SIGTERM, waits up to grace, then kills. It reports whether
// the kill was needed.
func (r *Runner) stop(cmd *exec.Cmd, done <-chan error, grace time.Duration, log *logger.Logger) bool {
	log.Warn("stopping agent (pid %d)", cmd.Process.Pid)
	if err := terminate(cmd); err != nil {
		log.Debug("terminate: %v", err)
	}
	select {
	case <-done:
		return false
	case <-time.After(grace):
	}
	log.Warn("agent ignored SIGTERM for %s, killing it", grace)
	if err := kill(cmd); err != nil {
		log.Debug("kill: %v", err)
	}
	<-done
	return true
}

func failureText(stderr, stdout string, code int) string {
	text := strings.TrimSpace(stderr)
	if text == "" {
		text = strings.TrimSpace(stdout)
	}
	if len(text) > maxErrorText {
		text = "..." + text[len(text)-maxErrorText:]
	}
	if text == "" {
		return fmt.Sprintf("agent exited with code %d", code)
	}
	return fmt.Sprintf("agent exited with code %d: %s", code, text)
}

// lockedWriter serializes writes from the stdout and stderr copiers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
