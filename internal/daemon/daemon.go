// Package daemon runs the poll, dispatch, sleep loop that feeds tickets to
// workers one at a time.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
	"github.com/silver2dream/ticketflow/internal/worker"
)

// State is the daemon lifecycle position.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 60 * time.Second

// TicketSource yields candidate tickets and remembers handled ones.
type TicketSource interface {
	GetNextTicket(ctx context.Context) *jira.Ticket
	MarkProcessed(key string)
}

// Processor runs one ticket to completion.
type Processor interface {
	ProcessTicket(ctx context.Context, extraContext string) *worker.Result
}

// WorkerFactory builds a fresh Processor for each ticket.
type WorkerFactory func(key string) Processor

// Recorder persists results.
type Recorder interface {
	Record(ctx context.Context, res *worker.Result) (string, error)
}

// Notifier announces results.
type Notifier interface {
	Notify(ctx context.Context, res *worker.Result) error
}

// Options configures a Daemon.
type Options struct {
	PollInterval time.Duration
	// LockPath enables the single-instance lock when set.
	LockPath string
	// MaxTickets stops the loop after this many dispatches. 0 means unlimited.
	MaxTickets   int
	ExtraContext string
	// HandleSignals installs a SIGINT/SIGTERM handler that calls Stop.
	HandleSignals bool
}

// Daemon polls for tickets and processes them sequentially.
type Daemon struct {
	source    TicketSource
	newWorker WorkerFactory
	history   Recorder
	notifier  Notifier
	log       *logger.Logger
	opts      Options

	mu         sync.Mutex
	state      State
	current    string
	inFlightAt string
	dispatched int
	stopCh     chan struct{}
	stopOnce   sync.Once
	wasStarted bool
}

// New creates a Daemon. history and notifier may be nil.
func New(source TicketSource, factory WorkerFactory, history Recorder, notifier Notifier, log *logger.Logger, opts Options) *Daemon {
	if log == nil {
		log = logger.Discard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Daemon{
		source:    source,
		newWorker: factory,
		history:   history,
		notifier:  notifier,
		log:       log.WithPrefix("daemon"),
		opts:      opts,
		stopCh:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CurrentTicket returns the key being processed, or "".
func (d *Daemon) CurrentTicket() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Dispatched returns how many tickets have been handed to workers.
func (d *Daemon) Dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatched
}

// Stop requests shutdown. The in-flight ticket, if any, runs to completion.
// Safe to call from any goroutine, any number of times.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		if d.state == Running {
			d.state = Stopping
		}
		d.inFlightAt = d.current
		d.mu.Unlock()
		close(d.stopCh)
	})
}

func (d *Daemon) stopRequested() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Start runs the loop until Stop is called, ctx is cancelled or MaxTickets
// is reached. A Daemon can be started once.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.wasStarted {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.wasStarted = true
	d.mu.Unlock()

	if d.opts.LockPath != "" {
		lock := NewLock(d.opts.LockPath)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				d.log.Warn("%v", err)
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.opts.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				d.log.Warn("received %s, stopping after the current ticket", sig)
				d.Stop()
			case <-loopCtx.Done():
			}
		}()
	}
	go func() {
		select {
		case <-d.stopCh:
		case <-ctx.Done():
			d.Stop()
		}
		cancel()
	}()

	d.mu.Lock()
	if d.stopRequested() {
		d.mu.Unlock()
		return nil
	}
	d.state = Running
	d.mu.Unlock()

	d.log.Info("started, polling every %s", d.opts.PollInterval)
	d.loop(loopCtx)

	d.mu.Lock()
	inFlight := d.inFlightAt
	d.state = Stopped
	d.mu.Unlock()

	if inFlight != "" {
		d.log.Info("stopped; %s was in progress when stop was requested and ran to completion", inFlight)
	} else {
		d.log.Info("stopped")
	}
	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	for !d.stopRequested() {
		d.log.Debug("polling for tickets")
		ticket := d.source.GetNextTicket(ctx)
		if d.stopRequested() {
			return
		}
		if ticket == nil {
			d.log.Info("no eligible tickets, next poll in %s", d.opts.PollInterval)
			d.sleep()
			continue
		}

		d.log.Info("picked %s: %s", ticket.Key, ticket.Summary)
		d.dispatch(ctx, ticket.Key)

		if d.opts.MaxTickets > 0 && d.Dispatched() >= d.opts.MaxTickets {
			d.log.Info("reached max_tickets (%d)", d.opts.MaxTickets)
			d.Stop()
			return
		}
		d.sleep()
	}
}

func (d *Daemon) dispatch(ctx context.Context, key string) {
	d.mu.Lock()
	d.current = key
	d.dispatched++
	d.mu.Unlock()

	res := d.runWorker(context.WithoutCancel(ctx), key)

	d.source.MarkProcessed(key)
	d.mu.Lock()
	d.current = ""
	d.mu.Unlock()

	d.report(context.WithoutCancel(ctx), res)
}

func (d *Daemon) runWorker(ctx context.Context, key string) (res *worker.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &worker.Result{TicketKey: key, Kind: worker.KindFatal, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	res = d.newWorker(key).ProcessTicket(ctx, d.opts.ExtraContext)
	if res == nil {
		res = &worker.Result{TicketKey: key, Kind: worker.KindFatal, Error: "worker returned no result"}
	}
	return res
}

func (d *Daemon) report(ctx context.Context, res *worker.Result) {
	switch {
	case res.Success:
		d.log.Success("%s done: %s", res.TicketKey, res.PRURL())
		if res.PreviewURL != "" {
			d.log.Info("%s preview: %s", res.TicketKey, res.PreviewURL)
		}
	case res.Kind == worker.KindNoChanges:
		d.log.Warn("%s: %s", res.TicketKey, res.Error)
	default:
		d.log.Error("%s failed (%s): %s", res.TicketKey, res.Kind, res.Error)
	}

	if d.history != nil {
		if _, err := d.history.Record(ctx, res); err != nil {
			d.log.Warn("could not record history: %v", err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.Notify(ctx, res); err != nil {
			d.log.Warn("notification failed: %v", err)
		}
	}
}

func (d *Daemon) sleep() {
	t := time.NewTimer(d.opts.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.stopCh:
	}
}
