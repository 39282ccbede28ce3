// Package notify tells the operator how a ticket run ended.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/silver2dream/ticketflow/internal/worker"
)

// Notifier sends desktop and webhook notifications.
type Notifier struct {
	Desktop    bool
	WebhookURL string
	HTTPClient *http.Client

	goos string
	exec func(ctx context.Context, name string, args ...string) error
}

// New creates a Notifier. A zero-value config sends nothing.
func New(desktop bool, webhookURL string) *Notifier {
	return &Notifier{
		Desktop:    desktop,
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		goos:       runtime.GOOS,
		exec: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Ticket     string `json:"ticket"`
	Success    bool   `json:"success"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	PRURL      string `json:"pr_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Format builds the notification title and message for a result.
func Format(res *worker.Result) (title, message string) {
	switch {
	case res.Success:
		title = "✅ " + res.TicketKey + " ready for review"
		message = res.PRURL()
		if res.PreviewURL != "" {
			message += " (preview: " + res.PreviewURL + ")"
		}
	case res.Kind == worker.KindNoChanges:
		title = "➖ " + res.TicketKey + " produced no changes"
		message = res.Error
	default:
		title = "⚠️ " + res.TicketKey + " failed"
		message = res.Error
	}
	return title, message
}

// Notify sends res to every enabled channel. All channels are attempted;
// errors are joined.
func (n *Notifier) Notify(ctx context.Context, res *worker.Result) error {
	title, message := Format(res)
	var errs []error
	if n.Desktop {
		if err := n.desktop(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	if n.WebhookURL != "" {
		p := Payload{
			Ticket:     res.TicketKey,
			Success:    res.Success,
			Kind:       string(res.Kind),
			Title:      title,
			Message:    message,
			PRURL:      res.PRURL(),
			PreviewURL: res.PreviewURL,
			Error:      res.Error,
		}
		if err := n.webhook(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// appleScriptEscape makes s safe inside an AppleScript string literal.
func appleScriptEscape(s string) string {
	return appleScriptEscaper.Replace(s)
}

func (n *Notifier) desktop(ctx context.Context, title, message string) error {
	var err error
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, appleScriptEscape(message), appleScriptEscape(title))
		err = n.exec(ctx, "osascript", "-e", script)
	case "linux":
		err = n.exec(ctx, "notify-send", "--app-name=ticketflow", title, message)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("send desktop notification: %w", err)
	}
	return nil
}

func (n *Notifier) webhook(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
