// Package jira talks to the Jira Cloud REST API (v3) and renders ticket
// descriptions to plain text.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
)

const apiPrefix = "/rest/api/3"

// Client is a Jira REST client authenticated with an email and API token.
type Client struct {
	baseURL string
	email   string
	token   string
	http    *http.Client
}

// NewClient creates a client for the Jira site at baseURL.
func NewClient(baseURL, email, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// TicketURL returns the browser URL of a ticket.
func (c *Client) TicketURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// GetTicket fetches one ticket with all fields, comments and attachments.
func (c *Client) GetTicket(ctx context.Context, key string) (*Ticket, error) {
	var raw issueJSON
	path := apiPrefix + "/issue/" + url.PathEscape(key) + "?fields=*all"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	t, err := raw.toTicket()
	if err != nil {
		return nil, tferrors.NewTrackerErrorWithCause("failed to decode ticket "+key, err)
	}
	return t, nil
}

// SearchTickets runs a JQL query and returns up to limit tickets in result order.
func (c *Client) SearchTickets(ctx context.Context, jql string, limit int) ([]*Ticket, error) {
	req := map[string]any{
		"jql":        jql,
		"maxResults": limit,
		"fields":     []string{"*all"},
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/search/jql", req, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	tickets := make([]*Ticket, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		t, err := raw.toTicket()
		if err != nil {
			return nil, tferrors.NewTrackerErrorWithCause("failed to decode ticket "+raw.Key, err)
		}
		tickets = append(tickets, t)
	}
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

// AddComment posts text as a comment. Blank lines separate paragraphs.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	body := map[string]any{"body": TextToADF(text)}
	path := apiPrefix + "/issue/" + url.PathEscape(key) + "/comment"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to comment on %s: %w", key, err)
	}
	return nil
}

// GetTransitions lists the transitions available from the ticket's current status.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	var resp transitionsResponse
	path := apiPrefix + "/issue/" + url.PathEscape(key) + "/transitions"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list transitions for %s: %w", key, err)
	}
	out := make([]Transition, 0, len(resp.Transitions))
	for _, t := range resp.Transitions {
		out = append(out, Transition{ID: t.ID, Name: t.Name, To: t.To.name()})
	}
	return out, nil
}

// TransitionTicket applies the transition whose name, or target status
// name, matches name case-insensitively. A missing match returns a
// *errors.TransitionNotFoundError listing the available names.
func (c *Client) TransitionTicket(ctx context.Context, key, name string) error {
	transitions, err := c.GetTransitions(ctx, key)
	if err != nil {
		return err
	}
	t, ok := MatchTransition(transitions, name)
	if !ok {
		available := make([]string, len(transitions))
		for i, t := range transitions {
			available[i] = t.Name
		}
		return &tferrors.TransitionNotFoundError{TicketKey: key, Name: name, Available: available}
	}

	body := map[string]any{"transition": map[string]string{"id": t.ID}}
	path := apiPrefix + "/issue/" + url.PathEscape(key) + "/transitions"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to transition %s to %q: %w", key, name, err)
	}
	return nil
}

// MatchTransition finds a transition by name, falling back to its target status.
func MatchTransition(transitions []Transition, name string) (Transition, bool) {
	for _, t := range transitions {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	for _, t := range transitions {
		if t.To != "" && strings.EqualFold(t.To, name) {
			return t, true
		}
	}
	return Transition{}, false
}

// DownloadAttachment saves an attachment into dir, creating dir if needed,
// and returns the local path.
func (c *Client) DownloadAttachment(ctx context.Context, att Attachment, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create attachments dir: %w", err)
	}
	name := filepath.Base(filepath.Clean("/" + att.Filename))
	if name == "/" || name == "." {
		name = "attachment-" + att.ID
	}
	dest := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.Content, nil)
	if err != nil {
		return "", tferrors.NewTrackerErrorWithCause("invalid attachment URL for "+att.Filename, err)
	}
	req.SetBasicAuth(c.email, c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", tferrors.NewNetworkErrorWithCause("failed to download "+att.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", statusError(resp)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", tferrors.NewNetworkErrorWithCause("failed to download "+att.Filename, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return tferrors.NewTrackerErrorWithCause("invalid request", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return tferrors.NewNetworkErrorWithCause("jira unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return tferrors.NewTrackerErrorWithCause("invalid response from jira", err)
	}
	return nil
}

// errorResponse is Jira's standard error body.
type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))

	var er errorResponse
	if json.Unmarshal(data, &er) == nil {
		parts := append([]string{}, er.ErrorMessages...)
		for field, m := range er.Errors {
			parts = append(parts, field+": "+m)
		}
		if len(parts) > 0 {
			msg = strings.Join(parts, "; ")
		}
	}

	text := fmt.Sprintf("jira returned %s", resp.Status)
	if msg != "" {
		text += ": " + msg
	}
	// 429 and 5xx clear up on their own; the daemon retries on the next poll.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return tferrors.NewNetworkError(text)
	}
	return tferrors.NewTrackerError(text)
}

// TextToADF wraps plain text in a minimal ADF document: blank lines
// separate paragraphs and single newlines become hard breaks.
func TextToADF(text string) Node {
	doc := Node{Type: "doc", Version: 1}
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para = strings.Trim(para, "\n")
		if para == "" {
			continue
		}
		p := Node{Type: "paragraph"}
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				p.Content = append(p.Content, Node{Type: "hardBreak"})
			}
			if line != "" {
				p.Content = append(p.Content, Node{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}
