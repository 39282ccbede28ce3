package ghutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		stderr string
		code   int
		want   bool
	}{
		// gh pr create / pr view failures that will not improve on retry
		{"To get started with GitHub CLI, please run:  gh auth login", 4, false},
		{"GraphQL: Could not resolve to a PullRequest (404)", 1, false},
		{"pull request create failed: GraphQL: Validation Failed (422)", 1, false},
		{"a pull request for branch \"feature/CW2-1\" into branch \"develop\" already exists", 1, false},
		// deployment polling and pushes hitting transient trouble
		{"HTTP 403: API rate limit exceeded for installation", 1, true},
		{"HTTP 502: Bad Gateway (https://api.github.com/repos/acme/app/deployments)", 1, true},
		{"Post \"https://api.github.com/graphql\": net/http: TLS handshake timeout", 1, true},
		{"dial tcp: lookup api.github.com: no such host", 1, true},
		{"read tcp 10.0.0.2:51234->140.82.112.6:443: read: connection reset by peer", 1, true},
		{"unexpected EOF", 1, true},
		{"", 0, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.stderr, tt.code); got != tt.want {
			t.Errorf("IsRetryable(%q, %d) = %v, want %v", tt.stderr, tt.code, got, tt.want)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 || cfg.BaseDelay != 2*time.Second || cfg.MaxDelay != 30*time.Second {
		t.Errorf("DefaultRetryConfig() = %+v", cfg)
	}
}

func TestDelayBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := cfg.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

// flakyScript fails with stderr msg until it has been run failures times.
func flakyScript(t *testing.T, failures int, msg string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	script := filepath.Join(dir, "flaky.sh")
	body := "#!/bin/sh\n" +
		"n=$(cat " + counter + " 2>/dev/null || echo 0)\n" +
		"n=$((n+1))\n" +
		"echo $n > " + counter + "\n" +
		"if [ $n -le " + strconv.Itoa(failures) + " ]; then echo '" + msg + "' >&2; exit 1; fi\n" +
		"echo ok\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return script, counter
}

func attempts(t *testing.T, counter string) string {
	t.Helper()
	data, _ := os.ReadFile(counter)
	return strings.TrimSpace(string(data))
}

func TestRunWithRetryRecovers(t *testing.T) {
	script, counter := flakyScript(t, 2, "HTTP 502: Bad Gateway")
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	out, err := RunWithRetry(context.Background(), cfg, script)
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
	if strings.TrimSpace(string(out)) != "ok" {
		t.Errorf("stdout = %q", out)
	}
	if got := attempts(t, counter); got != "3" {
		t.Errorf("attempts = %s, want 3", got)
	}
}

func TestRunWithRetryStopsOnNonRetryable(t *testing.T) {
	script, counter := flakyScript(t, 5, "HTTP 404: Not Found")
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	_, err := RunWithRetry(context.Background(), cfg, script)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts(t, counter); got != "1" {
		t.Errorf("attempts = %s, want 1", got)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !strings.Contains(cmdErr.Stderr, "404") {
		t.Errorf("expected CommandError carrying stderr, got %v", err)
	}
}

func TestRunWithRetryGivesUp(t *testing.T) {
	script, counter := flakyScript(t, 5, "API rate limit exceeded")
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}

	_, err := RunWithRetry(context.Background(), cfg, script)
	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("err = %v", err)
	}
	if got := attempts(t, counter); got != "2" {
		t.Errorf("attempts = %s, want 2", got)
	}
}
