package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/silver2dream/ticketflow/internal/config"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/poller"
	"github.com/silver2dream/ticketflow/internal/worker"
)

type staticSearch struct {
	mu      sync.Mutex
	keys    []string
	queries int
}

func (s *staticSearch) SearchTickets(ctx context.Context, jql string, limit int) ([]*jira.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	out := make([]*jira.Ticket, len(s.keys))
	for i, k := range s.keys {
		out[i] = &jira.Ticket{Key: k, Summary: "summary " + k}
	}
	return out, nil
}

func newPoller(keys ...string) *poller.Poller {
	return poller.New(&staticSearch{keys: keys}, config.JiraConfig{ProjectKey: "CW2", CandidateStatuses: []string{"To Do"}}, nil)
}

type funcWorker func(ctx context.Context, extra string) *worker.Result

func (f funcWorker) ProcessTicket(ctx context.Context, extra string) *worker.Result { return f(ctx, extra) }

type recorder struct {
	mu      sync.Mutex
	results []*worker.Result
}

func (r *recorder) Record(ctx context.Context, res *worker.Result) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return "id", nil
}

func (r *recorder) Notify(ctx context.Context, res *worker.Result) error {
	_, err := r.Record(ctx, res)
	return err
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, res := range r.results {
		keys = append(keys, res.TicketKey)
	}
	return keys
}

func succeed(key string) Processor {
	return funcWorker(func(ctx context.Context, extra string) *worker.Result {
		return &worker.Result{TicketKey: key, Success: true, Kind: worker.KindNone}
	})
}

func TestDaemonProcessesEachTicketOnce(t *testing.T) {
	p := newPoller("CW2-1", "CW2-2")
	hist, notes := &recorder{}, &recorder{}
	var started []string
	factory := func(key string) Processor {
		started = append(started, key)
		return succeed(key)
	}
	d := New(p, factory, hist, notes, nil, Options{PollInterval: 5 * time.Millisecond, MaxTickets: 2})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 2 || started[0] != "CW2-1" || started[1] != "CW2-2" {
		t.Errorf("dispatched %v", started)
	}
	if p.ProcessedCount() != 2 {
		t.Errorf("ProcessedCount = %d", p.ProcessedCount())
	}
	if got := hist.keys(); len(got) != 2 {
		t.Errorf("history = %v", got)
	}
	if got := notes.keys(); len(got) != 2 {
		t.Errorf("notifications = %v", got)
	}
	if d.State() != Stopped || d.CurrentTicket() != "" {
		t.Errorf("state %s, current %q", d.State(), d.CurrentTicket())
	}
}

func TestStopLetsInFlightTicketFinish(t *testing.T) {
	p := newPoller("CW2-7")
	hist := &recorder{}
	running := make(chan struct{})
	release := make(chan struct{})
	var workerCtxErr error

	var d *Daemon
	factory := func(key string) Processor {
		return funcWorker(func(ctx context.Context, extra string) *worker.Result {
			close(running)
			<-release
			workerCtxErr = ctx.Err()
			return &worker.Result{TicketKey: key, Success: true}
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d = New(p, factory, hist, nil, nil, Options{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	<-running
	if d.CurrentTicket() != "CW2-7" || d.State() != Running {
		t.Errorf("while working: current %q state %s", d.CurrentTicket(), d.State())
	}
	d.Stop()
	cancel()
	d.Stop()
	if d.State() != Stopping {
		t.Errorf("after Stop: state %s", d.State())
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if workerCtxErr != nil {
		t.Errorf("worker context was cancelled: %v", workerCtxErr)
	}
	if got := hist.keys(); len(got) != 1 || got[0] != "CW2-7" {
		t.Errorf("in-flight result not recorded: %v", got)
	}
	if p.ProcessedCount() != 1 || d.CurrentTicket() != "" || d.State() != Stopped {
		t.Errorf("processed %d, current %q, state %s", p.ProcessedCount(), d.CurrentTicket(), d.State())
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	search := &staticSearch{}
	p := poller.New(search, config.JiraConfig{ProjectKey: "CW2"}, nil)
	d := New(p, succeed, nil, nil, nil, Options{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the poll sleep")
	}
	search.mu.Lock()
	defer search.mu.Unlock()
	if search.queries != 1 {
		t.Errorf("queries = %d, want 1", search.queries)
	}
}

func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := New(newPoller(), succeed, nil, nil, nil, Options{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the daemon")
	}
	if d.State() != Stopped {
		t.Errorf("state = %s", d.State())
	}
}

func TestStopBeforeStart(t *testing.T) {
	d := New(newPoller("CW2-1"), func(key string) Processor {
		t.Error("no ticket should be dispatched")
		return succeed(key)
	}, nil, nil, nil, Options{})
	d.Stop()
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestWorkerPanicStillMarksProcessed(t *testing.T) {
	p := newPoller("CW2-9")
	hist := &recorder{}
	factory := func(key string) Processor {
		return funcWorker(func(ctx context.Context, extra string) *worker.Result { panic("boom") })
	}
	d := New(p, factory, hist, nil, nil, Options{PollInterval: time.Millisecond, MaxTickets: 1})

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.ProcessedCount() != 1 {
		t.Error("ticket should be marked processed after a panic")
	}
	if len(hist.results) != 1 || hist.results[0].Kind != worker.KindFatal {
		t.Errorf("results = %+v", hist.results)
	}
}

func TestExtraContextForwarded(t *testing.T) {
	var got string
	factory := func(key string) Processor {
		return funcWorker(func(ctx context.Context, extra string) *worker.Result {
			got = extra
			return &worker.Result{TicketKey: key, Success: true}
		})
	}
	d := New(newPoller("CW2-1"), factory, nil, nil, nil, Options{MaxTickets: 1, ExtraContext: "be brief"})
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "be brief" {
		t.Errorf("extra = %q", got)
	}
}

func TestLockBlocksSecondDaemon(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")
	first := New(newPoller(), succeed, nil, nil, nil, Options{PollInterval: time.Hour, LockPath: lockPath})

	done := make(chan error, 1)
	go func() { done <- first.Start(context.Background()) }()
	deadline := time.Now().Add(5 * time.Second)
	for first.State() != Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := New(newPoller(), succeed, nil, nil, nil, Options{LockPath: lockPath})
	if err := second.Start(context.Background()); err == nil {
		t.Error("second daemon should not acquire the lock")
	}

	first.Stop()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed on exit")
	}
}
