package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
)

const issueBody = `{
	"key": "CW2-100",
	"fields": {
		"summary": "Fix login bug",
		"description": {"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"Broken"}]}]},
		"status": {"name": "To Do"},
		"issuetype": {"name": "Bug"},
		"priority": {"name": "High"},
		"assignee": {"displayName": "Dana"},
		"reporter": null,
		"labels": ["ai"],
		"created": "2024-03-01T10:15:30.000+0000",
		"attachment": [{"id":"9","filename":"screen.png","mimeType":"image/png","size":3,"content":"%s/attachment/9"}],
		"comment": {"comments": [{"id":"1","author":{"displayName":"Sam"},"body":"plain comment","created":"2024-03-02T08:00:00.000+0000"}]},
		"customfield_10010": 5,
		"customfield_10011": null
	}
}`

type fakeJira struct {
	mu          sync.Mutex
	server      *httptest.Server
	comments    []string
	transitions []string
	searches    []map[string]any
	authOK      bool
}

func newFakeJira(t *testing.T) *fakeJira {
	t.Helper()
	f := &fakeJira{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /rest/api/3/issue/{key}", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		f.mu.Lock()
		f.authOK = ok && user == "bot@example.com" && pass == "token"
		f.mu.Unlock()
		if r.PathValue("key") != "CW2-100" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`)
			return
		}
		fmt.Fprintf(w, issueBody, f.server.URL)
	})
	mux.HandleFunc("POST /rest/api/3/search/jql", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.searches = append(f.searches, req)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"issues":[`+issueBody+`,{"key":"CW2-101","fields":{"summary":"Second"}}]}`, f.server.URL)
	})
	mux.HandleFunc("POST /rest/api/3/issue/{key}/comment", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Body Node `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.comments = append(f.comments, RenderADF(&req.Body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"10"}`)
	})
	mux.HandleFunc("GET /rest/api/3/issue/{key}/transitions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"transitions":[
			{"id":"11","name":"Start Progress","to":{"name":"In Progress"}},
			{"id":"21","name":"PR to develop open","to":{"name":"In Review"}}
		]}`)
	})
	mux.HandleFunc("POST /rest/api/3/issue/{key}/transitions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.transitions = append(f.transitions, req.Transition.ID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /attachment/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "png")
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeJira) client() *Client {
	return NewClient(f.server.URL+"/", "bot@example.com", "token", 5*time.Second)
}

func TestGetTicket(t *testing.T) {
	f := newFakeJira(t)
	ticket, err := f.client().GetTicket(context.Background(), "CW2-100")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if !f.authOK {
		t.Error("request did not carry basic auth credentials")
	}

	if ticket.Key != "CW2-100" || ticket.Summary != "Fix login bug" {
		t.Errorf("unexpected ticket: %+v", ticket)
	}
	if ticket.Status != "To Do" || ticket.Type != "Bug" || ticket.Priority != "High" {
		t.Errorf("unexpected status/type/priority: %q %q %q", ticket.Status, ticket.Type, ticket.Priority)
	}
	if ticket.Assignee != "Dana" || ticket.Reporter != "" {
		t.Errorf("unexpected people: %q %q", ticket.Assignee, ticket.Reporter)
	}
	if ticket.Description.PlainText() != "Broken" {
		t.Errorf("description = %q", ticket.Description.PlainText())
	}
	if len(ticket.Attachments) != 1 || ticket.Attachments[0].Filename != "screen.png" {
		t.Errorf("attachments = %+v", ticket.Attachments)
	}
	if len(ticket.Comments) != 1 || ticket.Comments[0].Author != "Sam" || ticket.Comments[0].Body.PlainText() != "plain comment" {
		t.Errorf("comments = %+v", ticket.Comments)
	}
	if ticket.Created.IsZero() || ticket.Created.Year() != 2024 {
		t.Errorf("created = %v", ticket.Created)
	}
	if v, ok := ticket.CustomFields["customfield_10010"]; !ok || v != float64(5) {
		t.Errorf("custom fields = %v", ticket.CustomFields)
	}
	if _, ok := ticket.CustomFields["customfield_10011"]; ok {
		t.Error("null custom fields should be dropped")
	}
}

func TestGetTicketNotFound(t *testing.T) {
	f := newFakeJira(t)
	_, err := f.client().GetTicket(context.Background(), "CW2-404")
	if err == nil {
		t.Fatal("expected error")
	}
	if tferrors.ExitCode(err) != tferrors.ExitTrackerError {
		t.Errorf("ExitCode = %d, want tracker error", tferrors.ExitCode(err))
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error should carry jira message: %v", err)
	}
}

func TestSearchTicketsLimit(t *testing.T) {
	f := newFakeJira(t)
	tickets, err := f.client().SearchTickets(context.Background(), "project = CW2", 1)
	if err != nil {
		t.Fatalf("SearchTickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Key != "CW2-100" {
		t.Errorf("tickets = %v", tickets)
	}
	if len(f.searches) != 1 || f.searches[0]["jql"] != "project = CW2" || f.searches[0]["maxResults"] != float64(1) {
		t.Errorf("search request = %v", f.searches)
	}
}

func TestAddComment(t *testing.T) {
	f := newFakeJira(t)
	if err := f.client().AddComment(context.Background(), "CW2-100", "PR: https://x/pull/1\n\nDone"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(f.comments) != 1 || f.comments[0] != "PR: https://x/pull/1\n\nDone" {
		t.Errorf("comments = %q", f.comments)
	}
}

func TestTransitionTicket(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantID  string
		missing bool
	}{
		{"exact name", "PR to develop open", "21", false},
		{"case insensitive", "pr TO DEVELOP open", "21", false},
		{"target status name", "in progress", "11", false},
		{"unknown", "Done", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeJira(t)
			err := f.client().TransitionTicket(context.Background(), "CW2-100", tt.target)
			if tt.missing {
				var tn *tferrors.TransitionNotFoundError
				if !asTransitionNotFound(err, &tn) {
					t.Fatalf("expected TransitionNotFoundError, got %v", err)
				}
				if strings.Join(tn.Available, ",") != "Start Progress,PR to develop open" {
					t.Errorf("Available = %v", tn.Available)
				}
				if len(f.transitions) != 0 {
					t.Error("no transition should be posted")
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionTicket: %v", err)
			}
			if len(f.transitions) != 1 || f.transitions[0] != tt.wantID {
				t.Errorf("posted transitions = %v, want [%s]", f.transitions, tt.wantID)
			}
		})
	}
}

func asTransitionNotFound(err error, target **tferrors.TransitionNotFoundError) bool {
	tn, ok := err.(*tferrors.TransitionNotFoundError)
	if ok {
		*target = tn
	}
	return ok
}

func TestTrackerUnreachable(t *testing.T) {
	f := newFakeJira(t)
	c := f.client()
	f.server.Close()

	err := c.TransitionTicket(context.Background(), "CW2-100", "Done")
	if err == nil {
		t.Fatal("expected error")
	}
	if tferrors.IsTransitionNotFound(err) {
		t.Error("an unreachable tracker must not look like a missing transition")
	}
	if !tferrors.IsNetworkError(err) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestServerErrorIsNetworkClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "a", "b", time.Second).GetTicket(context.Background(), "X-1")
	if !tferrors.IsNetworkError(err) {
		t.Errorf("503 should be a network-class error, got %v", err)
	}
}

func TestDownloadAttachment(t *testing.T) {
	f := newFakeJira(t)
	dir := filepath.Join(t.TempDir(), "attachments", "CW2-100")
	att := Attachment{ID: "9", Filename: "../../escape.png", Content: f.server.URL + "/attachment/9"}

	path, err := f.client().DownloadAttachment(context.Background(), att, dir)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Base(path) != "escape.png" {
		t.Errorf("path = %q, must stay inside %q", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Errorf("content = %q, err = %v", data, err)
	}
}

func TestTicketURL(t *testing.T) {
	c := NewClient("https://example.atlassian.net/", "", "", 0)
	if got := c.TicketURL("CW2-100"); got != "https://example.atlassian.net/browse/CW2-100" {
		t.Errorf("TicketURL = %q", got)
	}
}
