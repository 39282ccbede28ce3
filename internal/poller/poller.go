// Package poller finds the next ticket the daemon should work on.
package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/silver2dream/ticketflow/internal/config"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
)

// BatchSize is how many candidates are requested per poll.
const BatchSize = 10

// Searcher runs a tracker query.
type Searcher interface {
	SearchTickets(ctx context.Context, jql string, limit int) ([]*jira.Ticket, error)
}

// Poller queries the tracker and remembers which tickets this process
// already handled.
type Poller struct {
	search Searcher
	jql    string
	log    *logger.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// New creates a Poller for the project described by cfg.
func New(search Searcher, cfg config.JiraConfig, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Discard()
	}
	return &Poller{
		search:    search,
		jql:       BuildJQL(cfg),
		log:       log.WithPrefix("poller"),
		processed: make(map[string]struct{}),
	}
}

// BuildJQL returns the explicit query override, or the default
// candidate-status query ordered by priority then age.
func BuildJQL(cfg config.JiraConfig) string {
	if q := strings.TrimSpace(cfg.JQL); q != "" {
		return q
	}
	quoted := make([]string, len(cfg.CandidateStatuses))
	for i, s := range cfg.CandidateStatuses {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("project = %s AND status IN (%s) ORDER BY priority DESC, created ASC",
		cfg.ProjectKey, strings.Join(quoted, ", "))
}

// JQL returns the query used on every poll.
func (p *Poller) JQL() string { return p.jql }

// GetNextTicket returns the first candidate not yet processed, or nil.
// Tracker errors are logged and reported as "nothing to do".
func (p *Poller) GetNextTicket(ctx context.Context) *jira.Ticket {
	tickets, err := p.search.SearchTickets(ctx, p.jql, BatchSize)
	if err != nil {
		p.log.Error("search failed: %v", err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tickets {
		if _, seen := p.processed[t.Key]; seen {
			continue
		}
		return t
	}
	if len(tickets) > 0 {
		p.log.Debug("%d candidate(s), all already processed", len(tickets))
	}
	return nil
}

// MarkProcessed records key as handled. Safe to call repeatedly.
func (p *Poller) MarkProcessed(key string) {
	p.mu.Lock()
	p.processed[key] = struct{}{}
	p.mu.Unlock()
}

// ClearProcessed forgets every handled key.
func (p *Poller) ClearProcessed() {
	p.mu.Lock()
	p.processed = make(map[string]struct{})
	p.mu.Unlock()
}

// ProcessedCount returns how many keys have been handled.
func (p *Poller) ProcessedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}
