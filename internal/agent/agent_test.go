//go:build !windows

package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testTicket() *jira.Ticket {
	return &jira.Ticket{
		Key:         "CW2-100",
		Summary:     "Fix login bug",
		Type:        "Bug",
		Priority:    "High",
		Status:      "To Do",
		Description: jira.Description{Text: "Users cannot sign in."},
	}
}

func TestWorkTicketPassesPromptOnStdin(t *testing.T) {
	work := t.TempDir()
	script := writeScript(t, "cat > prompt.txt\necho done\n")
	var live bytes.Buffer
	r := &Runner{Command: script, Timeout: 10 * time.Second, Stdout: &live, Stderr: &live}

	res, err := r.WorkTicket(context.Background(), testTicket(), "https://x/browse/CW2-100", work, "focus on the API")
	if err != nil {
		t.Fatalf("WorkTicket: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Errorf("result = %+v", res)
	}
	if strings.TrimSpace(res.Output) != "done" || strings.TrimSpace(live.String()) != "done" {
		t.Errorf("output should be captured and streamed: captured %q, live %q", res.Output, live.String())
	}

	prompt, err := os.ReadFile(filepath.Join(work, "prompt.txt"))
	if err != nil {
		t.Fatalf("agent did not run in workDir: %v", err)
	}
	for _, want := range []string{"CW2-100", "Fix login bug", "Users cannot sign in.", "focus on the API", "Do NOT create a pull request"} {
		if !strings.Contains(string(prompt), want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRunNonZeroExit(t *testing.T) {
	script := writeScript(t, "echo working\necho 'lint failed' >&2\nexit 3\n")
	var stdout, stderr bytes.Buffer
	r := &Runner{Command: script, Timeout: 10 * time.Second, Stdout: &stdout, Stderr: &stderr}

	res, err := r.Run(context.Background(), t.TempDir(), "prompt")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || res.ExitCode != 3 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "lint failed") || !strings.Contains(res.Error, "code 3") {
		t.Errorf("Error = %q", res.Error)
	}
	if strings.TrimSpace(stderr.String()) != "lint failed" {
		t.Errorf("stderr should be streamed separately, got %q", stderr.String())
	}
}

func processGone(pid int) bool {
	return syscall.Kill(pid, 0) == syscall.ESRCH
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	return pid
}

func TestRunTimeoutTerminates(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := writeScript(t, "echo $$ > "+pidFile+"\nsleep 30\n")
	r := &Runner{Command: script, Timeout: 300 * time.Millisecond, Grace: 2 * time.Second, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	start := time.Now()
	res, err := r.Run(context.Background(), dir, "prompt")
	if !tferrors.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error should mention the timeout: %v", err)
	}
	if res == nil || res.Success {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("timeout did not stop the agent promptly")
	}
	if pid := readPID(t, pidFile); !processGone(pid) {
		t.Errorf("agent process %d still alive", pid)
	}
}

func TestRunTimeoutKillsAfterGrace(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	script := writeScript(t, "trap '' TERM\necho $$ > "+pidFile+"\nwhile true; do sleep 0.1; done\n")
	r := &Runner{Command: script, Timeout: 300 * time.Millisecond, Grace: 300 * time.Millisecond, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	_, err := r.Run(context.Background(), dir, "prompt")
	te, ok := err.(*tferrors.TimeoutError)
	if !ok {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if !te.Killed {
		t.Error("process ignoring SIGTERM should be reported as killed")
	}
	if pid := readPID(t, pidFile); !processGone(pid) {
		t.Errorf("agent process %d still alive", pid)
	}
}

func TestRunCancelled(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	r := &Runner{Command: script, Timeout: time.Minute, Grace: time.Second, Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, t.TempDir(), "prompt")
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context deadline", err)
	}
}

func TestRunMissingCommand(t *testing.T) {
	r := &Runner{Command: "ticketflow-no-such-agent"}
	_, err := r.Run(context.Background(), t.TempDir(), "prompt")
	if tferrors.ExitCode(err) != tferrors.ExitAgentError {
		t.Errorf("err = %v, want agent error", err)
	}
}

func TestRunPTY(t *testing.T) {
	script := writeScript(t, "if [ -t 1 ]; then echo tty; else echo pipe; fi\necho \"prompt=$1\"\n")
	var live bytes.Buffer
	r := &Runner{Command: script, Timeout: 10 * time.Second, UsePTY: true, Stdout: &live}

	res, err := r.Run(context.Background(), t.TempDir(), "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "tty") || !strings.Contains(res.Output, "prompt=hello") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestRunPTYFallsBackToPipes(t *testing.T) {
	ptySupported = false
	defer func() { ptySupported = true }()

	script := writeScript(t, "echo \"args=$#\"\necho \"stdin=$(cat)\"\n")
	var logs bytes.Buffer
	r := &Runner{
		Command: script,
		Timeout: 10 * time.Second,
		UsePTY:  true,
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Log:     logger.New(&logs, logger.LevelWarn),
	}

	res, err := r.Run(context.Background(), t.TempDir(), "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Output, "args=0") || !strings.Contains(res.Output, "stdin=hello") {
		t.Errorf("prompt should arrive on stdin, Output = %q", res.Output)
	}
	if !strings.Contains(logs.String(), "running the agent on pipes") {
		t.Errorf("expected fallback warning, logs = %q", logs.String())
	}
}
