package poller

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/silver2dream/ticketflow/internal/config"
	"github.com/silver2dream/ticketflow/internal/jira"
)

type fakeSearch struct {
	tickets []*jira.Ticket
	err     error
	jql     string
	limit   int
}

func (f *fakeSearch) SearchTickets(ctx context.Context, jql string, limit int) ([]*jira.Ticket, error) {
	f.jql, f.limit = jql, limit
	return f.tickets, f.err
}

func tickets(keys ...string) []*jira.Ticket {
	out := make([]*jira.Ticket, len(keys))
	for i, k := range keys {
		out[i] = &jira.Ticket{Key: k}
	}
	return out
}

func TestBuildJQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.JiraConfig
		want string
	}{
		{
			name: "default query",
			cfg:  config.JiraConfig{ProjectKey: "CW2", CandidateStatuses: []string{"To Do", "Ready for Dev"}},
			want: `project = CW2 AND status IN ("To Do", "Ready for Dev") ORDER BY priority DESC, created ASC`,
		},
		{
			name: "override wins",
			cfg:  config.JiraConfig{ProjectKey: "CW2", JQL: " assignee = currentUser() ", CandidateStatuses: []string{"To Do"}},
			want: "assignee = currentUser()",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildJQL(tt.cfg); got != tt.want {
				t.Errorf("BuildJQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetNextTicketSkipsProcessed(t *testing.T) {
	search := &fakeSearch{tickets: tickets("CW2-1", "CW2-2")}
	p := New(search, config.JiraConfig{ProjectKey: "CW2", CandidateStatuses: []string{"To Do"}}, nil)

	first := p.GetNextTicket(context.Background())
	if first == nil || first.Key != "CW2-1" {
		t.Fatalf("first = %v", first)
	}
	if search.limit != BatchSize {
		t.Errorf("limit = %d, want %d", search.limit, BatchSize)
	}

	p.MarkProcessed("CW2-1")
	if next := p.GetNextTicket(context.Background()); next == nil || next.Key != "CW2-2" {
		t.Fatalf("next = %v, want CW2-2", next)
	}

	p.MarkProcessed("CW2-2")
	p.MarkProcessed("CW2-2")
	if next := p.GetNextTicket(context.Background()); next != nil {
		t.Errorf("all processed, got %v", next.Key)
	}
	if p.ProcessedCount() != 2 {
		t.Errorf("ProcessedCount = %d", p.ProcessedCount())
	}

	p.ClearProcessed()
	if p.ProcessedCount() != 0 {
		t.Error("ClearProcessed should empty the set")
	}
	if next := p.GetNextTicket(context.Background()); next == nil || next.Key != "CW2-1" {
		t.Errorf("after clear, next = %v", next)
	}
}

func TestGetNextTicketSwallowsErrors(t *testing.T) {
	p := New(&fakeSearch{err: errors.New("jira down")}, config.JiraConfig{ProjectKey: "CW2"}, nil)
	if got := p.GetNextTicket(context.Background()); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestMarkProcessedConcurrent(t *testing.T) {
	p := New(&fakeSearch{}, config.JiraConfig{ProjectKey: "CW2"}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.MarkProcessed("CW2-1")
			_ = p.ProcessedCount()
		}()
	}
	wg.Wait()
	if p.ProcessedCount() != 1 {
		t.Errorf("ProcessedCount = %d", p.ProcessedCount())
	}
}
