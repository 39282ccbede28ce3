package worker

import (
	"regexp"
	"strings"

	"github.com/silver2dream/ticketflow/internal/jira"
)

// maxSummaryLen caps the sanitized summary used in branch names.
const maxSummaryLen = 50

// TestingInstructions fills the {testing} placeholder of the PR body.
const TestingInstructions = `- Review the changes in this pull request
- Verify the behaviour described in the ticket
- Check the preview deployment if one is linked`

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	slashRuns  = regexp.MustCompile(`[-/]*/[-/]*`)
	hyphenRuns = regexp.MustCompile(`-{2,}`)
)

// SanitizeSummary turns a summary into a branch-name fragment:
// lower-cased, runs of other characters collapsed to "-", trimmed, capped.
func SanitizeSummary(summary string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(summary), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSummaryLen {
		s = strings.Trim(s[:maxSummaryLen], "-")
	}
	return s
}

// Var is one placeholder substitution.
type Var struct {
	Name  string
	Value string
}

// Render substitutes {name} placeholders in order. Substituted values are
// not scanned again.
func Render(pattern string, vars ...Var) string {
	pairs := make([]string, 0, len(vars)*2)
	for _, v := range vars {
		pairs = append(pairs, "{"+v.Name+"}", v.Value)
	}
	return strings.NewReplacer(pairs...).Replace(pattern)
}

// BranchName resolves the branch pattern for a ticket.
func BranchName(pattern string, t *jira.Ticket) string {
	name := Render(pattern,
		Var{"ticket_key", t.Key},
		Var{"summary", SanitizeSummary(t.Summary)},
		Var{"type", strings.ToLower(t.Type)},
	)
	// An empty summary or type leaves dangling separators.
	name = slashRuns.ReplaceAllString(name, "/")
	name = hyphenRuns.ReplaceAllString(name, "-")
	return strings.Trim(name, "-/")
}

// CommitMessage resolves the commit pattern for a ticket.
func CommitMessage(pattern string, t *jira.Ticket) string {
	return Render(pattern,
		Var{"ticket_key", t.Key},
		Var{"summary", t.Summary},
		Var{"type", strings.ToLower(t.Type)},
	)
}

func prVars(t *jira.Ticket, ticketURL, changes string) []Var {
	if strings.TrimSpace(changes) == "" {
		changes = "(no commits listed)"
	}
	return []Var{
		{"ticket_key", t.Key},
		{"ticket_url", ticketURL},
		{"summary", t.Summary},
		{"changes", changes},
		{"testing", TestingInstructions},
	}
}
