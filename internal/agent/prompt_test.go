package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/silver2dream/ticketflow/internal/jira"
)

func TestBuildPromptSections(t *testing.T) {
	attachments := t.TempDir()
	os.WriteFile(filepath.Join(attachments, "screen.png"), []byte("x"), 0644)

	ticket := &jira.Ticket{
		Key:      "CW2-100",
		Summary:  "Fix login bug",
		Type:     "Bug",
		Priority: "High",
		Status:   "To Do",
		Description: jira.Description{Doc: &jira.Node{Type: "doc", Content: []jira.Node{
			{Type: "heading", Attrs: map[string]any{"level": float64(1)}, Content: []jira.Node{{Type: "text", Text: "Login"}}},
		}}},
	}
	for i := 1; i <= 5; i++ {
		ticket.Comments = append(ticket.Comments, jira.Comment{
			Author:  "user" + string(rune('0'+i)),
			Body:    jira.Description{Text: "comment " + string(rune('0'+i))},
			Created: time.Date(2024, 3, i, 0, 0, 0, 0, time.UTC),
		})
	}

	prompt := BuildPrompt(PromptInput{
		Ticket:         ticket,
		TicketURL:      "https://example.atlassian.net/browse/CW2-100",
		AttachmentsDir: attachments,
		Instructions:   "Run make lint.",
		ExtraContext:   "Prefer small commits.",
	})

	for _, want := range []string{
		"Ticket: CW2-100",
		"Summary: Fix login bug",
		"Type: Bug",
		"Priority: High",
		"Status: To Do",
		"URL: https://example.atlassian.net/browse/CW2-100",
		"# Login",
		"downloaded to " + attachments,
		"- screen.png",
		"### user5 (2024-03-05)",
		"Run make lint.",
		"Prefer small commits.",
		"Do NOT create a pull request",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	for _, old := range []string{"comment 1", "comment 2"} {
		if strings.Contains(prompt, old) {
			t.Errorf("only the last three comments belong in the prompt, found %q", old)
		}
	}
	if !strings.Contains(prompt, "comment 3") {
		t.Error("third-to-last comment missing")
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildPrompt(PromptInput{
		Ticket:         &jira.Ticket{Key: "X-1", Summary: "s"},
		AttachmentsDir: filepath.Join(t.TempDir(), "missing"),
	})
	for _, section := range []string{"## Attachments", "## Recent comments", "## Project instructions", "## Additional context"} {
		if strings.Contains(prompt, section) {
			t.Errorf("unexpected section %q", section)
		}
	}
	if !strings.Contains(prompt, jira.EmptyDescription) {
		t.Error("empty description should render the placeholder")
	}
}
