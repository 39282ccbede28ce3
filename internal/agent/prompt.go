package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/silver2dream/ticketflow/internal/jira"
)

// maxComments is how many of the most recent comments go into the prompt.
const maxComments = 3

// PromptInput is everything the prompt is built from.
type PromptInput struct {
	Ticket    *jira.Ticket
	TicketURL string
	// AttachmentsDir is mentioned only when it holds files.
	AttachmentsDir string
	Instructions   string
	ExtraContext   string
}

// BuildPrompt renders the agent prompt for one ticket.
func BuildPrompt(in PromptInput) string {
	t := in.Ticket
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on Jira ticket %s.\n\n", t.Key)
	fmt.Fprintf(&b, "Ticket: %s\n", t.Key)
	fmt.Fprintf(&b, "Summary: %s\n", t.Summary)
	writeField(&b, "Type", t.Type)
	writeField(&b, "Priority", t.Priority)
	writeField(&b, "Status", t.Status)
	writeField(&b, "URL", in.TicketURL)

	b.WriteString("\n## Description\n\n")
	b.WriteString(t.Description.PlainText())
	b.WriteString("\n")

	if files := listFiles(in.AttachmentsDir); len(files) > 0 {
		b.WriteString("\n## Attachments\n\n")
		fmt.Fprintf(&b, "Attachments for this ticket were downloaded to %s:\n", in.AttachmentsDir)
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if len(t.Comments) > 0 {
		b.WriteString("\n## Recent comments\n")
		comments := t.Comments
		if len(comments) > maxComments {
			comments = comments[len(comments)-maxComments:]
		}
		for _, c := range comments {
			author := c.Author
			if author == "" {
				author = "unknown"
			}
			if c.Created.IsZero() {
				fmt.Fprintf(&b, "\n### %s\n\n", author)
			} else {
				fmt.Fprintf(&b, "\n### %s (%s)\n\n", author, c.Created.Format("2006-01-02"))
			}
			b.WriteString(c.Body.PlainText())
			b.WriteString("\n")
		}
	}

	if s := strings.TrimSpace(in.Instructions); s != "" {
		b.WriteString("\n## Project instructions\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(in.ExtraContext); s != "" {
		b.WriteString("\n## Additional context\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}

	b.WriteString("\n## Task\n\n")
	b.WriteString("Implement the requirements described in this ticket.\n")
	b.WriteString("- Make the code changes in this repository.\n")
	b.WriteString("- Make sure lint and type checks pass.\n")
	fmt.Fprintf(&b, "- Commit your changes with clear messages that reference %s.\n", t.Key)
	b.WriteString("- Do NOT create a pull request. It is opened for you after you finish.\n")

	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", name, value)
	}
}

func listFiles(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
