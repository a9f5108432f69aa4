// Package session runs discovery scans: one at a time, cancellable, and
// never reported idle while telemetry fetches it started are still writing.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/scanner"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// ErrScanInProgress is returned when a scan is started while one is running.
var ErrScanInProgress = errors.New("scan already in progress")

// State is the controller lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateCancelling State = "cancelling"
)

// Fleet is the part of the fleet store a scan writes to.
type Fleet interface {
	Upsert(ip string, partial model.Record)
	Clear()
	Snapshot() []model.Record
}

// Recorder persists finished scans.
type Recorder interface {
	SaveScan(scan *model.Scan) error
	SaveSnapshot(scanID string, records []model.Record) error
}

// Options configure a Controller.
type Options struct {
	// ScanThreads caps concurrent probes and concurrent telemetry fetches.
	ScanThreads int
	// ScanRate caps probes per second; zero is unlimited.
	ScanRate float64
	// DataRetries is the number of telemetry attempts per found device.
	DataRetries int
	// Fields requested from each found device. Nil means all.
	Fields miner.FieldSet

	Recorder Recorder
	// OnProgress is called with a copy of the scan after every probe and
	// when the scan finishes.
	OnProgress func(model.Scan)
}

// Controller owns the lifecycle of discovery runs.
type Controller struct {
	resolver miner.Resolver
	fleet    Fleet
	guard    *worker.Guard
	opts     Options
	scanner  *scanner.Scanner
	data     *worker.Pool

	mu      sync.Mutex
	state   State
	current *model.Scan
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle controller. guard is shared with the bulk operation
// dispatcher so scans and operations never overlap.
func New(resolver miner.Resolver, fleet Fleet, guard *worker.Guard, opts Options) *Controller {
	if opts.DataRetries < 1 {
		opts.DataRetries = 1
	}
	if guard == nil {
		guard = worker.NewGuard(nil)
	}
	return &Controller{
		resolver: resolver,
		fleet:    fleet,
		guard:    guard,
		opts:     opts,
		scanner:  scanner.New(resolver, scanner.Options{Concurrency: opts.ScanThreads, Rate: opts.ScanRate}),
		data:     worker.NewPool("scan-data", opts.ScanThreads),
		state:    StateIdle,
	}
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a copy of the running or last finished scan, or nil.
func (c *Controller) Current() *model.Scan {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// Start begins a scan of network in the background and returns at once.
// Ending ctx cancels the scan, so callers serving a request should pass a
// context that outlives it.
func (c *Controller) Start(ctx context.Context, network string) (*model.Scan, error) {
	prefix, err := scanner.ParseNetwork(network)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrScanInProgress
	}
	ticket, err := c.guard.Begin("scan")
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	scan := &model.Scan{
		ID:         model.NewID(),
		Network:    prefix.String(),
		Status:     model.ScanRunning,
		TotalHosts: len(scanner.Hosts(prefix)),
		StartedAt:  time.Now(),
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	if ctx.Err() != nil {
		cancel()
	}

	c.state = StateScanning
	c.current = scan
	c.cancel = cancel
	c.done = make(chan struct{})
	first := *scan
	c.mu.Unlock()

	if c.opts.OnProgress != nil {
		c.opts.OnProgress(first)
	}
	go func() {
		defer stop()
		c.run(runCtx, scan, ticket)
	}()
	return &first, nil
}

// Cancel asks the running scan to stop. It returns false when no scan is
// running. Cancel does not wait; use Wait for that.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateScanning {
		return false
	}
	c.state = StateCancelling
	c.cancel()
	log.Info("Cancelling scan", "scan_id", c.current.ID)
	return true
}

// Wait blocks until the current scan, if any, has fully drained.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan runs a scan to completion. Cancelling ctx cancels the scan, and Scan
// still returns only after it has drained.
func (c *Controller) Scan(ctx context.Context, network string) (*model.Scan, error) {
	if _, err := c.Start(ctx, network); err != nil {
		return nil, err
	}
	if err := c.Wait(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return c.Current(), nil
}

func (c *Controller) run(ctx context.Context, scan *model.Scan, ticket *worker.Ticket) {
	// Cancelled before it began: the previous fleet stays as it was.
	if err := ctx.Err(); err != nil {
		ticket.Draining()
		c.finish(scan, err, ticket, false)
		return
	}

	c.fleet.Clear()
	c.resolver.Clear()

	log.Info("Scan started", "scan_id", scan.ID, "network", scan.Network, "hosts", scan.TotalHosts)

	// Fetches already started are awaited even after cancellation so nothing
	// writes to the fleet once the scan reports idle.
	dataCtx := context.WithoutCancel(ctx)
	in := make(chan worker.Unit[*miner.Telemetry])
	results := worker.Stream(dataCtx, c.data, in)

	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		for res := range results {
			if res.Err != nil {
				log.Debug("Telemetry fetch failed", "ip", res.Key, "error", res.Err)
				continue
			}
			c.fleet.Upsert(res.Key, model.FromTelemetry(res.Key, res.Value))
		}
	}()

	prefix, _ := scanner.ParseNetwork(scan.Network)
	found := c.scanner.Discover(ctx, prefix, func(p scanner.Progress) {
		c.mu.Lock()
		scan.ProbedHosts = p.Probed
		scan.FoundHosts = p.Found
		snapshot := *scan
		c.mu.Unlock()
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(snapshot)
		}
	})
	for h := range found {
		c.fleet.Upsert(h.IP(), model.Record{})
		in <- c.fetchUnit(h)
	}
	close(in)

	ticket.Draining()
	<-fetched

	c.finish(scan, ctx.Err(), ticket, true)
}

// fetchUnit builds the telemetry fetch for one found device.
func (c *Controller) fetchUnit(h miner.Handle) worker.Unit[*miner.Telemetry] {
	return worker.Unit[*miner.Telemetry]{
		Key: h.IP(),
		Run: func(ctx context.Context) (*miner.Telemetry, error) {
			var err error
			for attempt := 0; attempt < c.opts.DataRetries; attempt++ {
				var t *miner.Telemetry
				t, err = h.Telemetry(ctx, c.opts.Fields)
				if err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("fetching telemetry: %w", err)
		},
	}
}

func (c *Controller) finish(scan *model.Scan, cause error, ticket *worker.Ticket, snapshot bool) {
	now := time.Now()

	c.mu.Lock()
	scan.CompletedAt = &now
	if cause != nil {
		scan.Status = model.ScanCancelled
		log.Info("Cancelled scan.", "scan_id", scan.ID, "probed", scan.ProbedHosts, "found", scan.FoundHosts)
	} else {
		scan.Status = model.ScanCompleted
		log.Info("Scan completed", "scan_id", scan.ID, "found", scan.FoundHosts, "duration", now.Sub(scan.StartedAt).Round(time.Millisecond))
	}
	final := *scan
	c.mu.Unlock()

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.SaveScan(&final); err != nil {
			log.Error("Failed to save scan", "scan_id", final.ID, "error", err)
		} else if snapshot {
			if err := c.opts.Recorder.SaveSnapshot(final.ID, c.fleet.Snapshot()); err != nil {
				log.Error("Failed to save fleet snapshot", "scan_id", final.ID, "error", err)
			}
		}
	}
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(final)
	}

	ticket.End()
	c.mu.Lock()
	c.state = StateIdle
	c.cancel()
	close(c.done)
	c.mu.Unlock()
}
