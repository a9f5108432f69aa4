package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/miner/minertest"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

func hashrate(v float64) *miner.Telemetry {
	return &miner.Telemetry{Hashrate: &v}
}

type memRecorder struct {
	mu        sync.Mutex
	scans     []model.Scan
	snapshots map[string]int
}

func (r *memRecorder) SaveScan(s *model.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, *s)
	return nil
}

func (r *memRecorder) SaveSnapshot(id string, recs []model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshots == nil {
		r.snapshots = map[string]int{}
	}
	r.snapshots[id] = len(recs)
	return nil
}

func TestScan_SlashThirtyEndToEnd(t *testing.T) {
	h := minertest.NewHandle("10.0.0.1")
	h.Data = hashrate(13.5)
	resolver := minertest.NewResolver(h)
	fl := fleet.New()
	fl.Upsert("172.16.0.9", model.Record{})
	rec := &memRecorder{}

	c := New(resolver, fl, nil, Options{ScanThreads: 10, Recorder: rec})
	scan, err := c.Scan(context.Background(), "10.0.0.0/30")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if scan.Status != model.ScanCompleted || scan.FoundHosts != 1 || scan.ProbedHosts != 2 {
		t.Errorf("scan = %+v", scan)
	}
	if got := fl.IPs(); len(got) != 1 || got[0] != "10.0.0.1" {
		t.Fatalf("fleet IPs = %v, want [10.0.0.1]", got)
	}
	r, _ := fl.Get("10.0.0.1")
	if r.Hashrate == nil || *r.Hashrate != 13.5 {
		t.Errorf("Hashrate = %v, want 13.5", r.Hashrate)
	}
	if resolver.Cleared() != 1 {
		t.Errorf("resolver cleared %d times, want 1", resolver.Cleared())
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
	if len(rec.scans) != 1 || rec.snapshots[scan.ID] != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

func TestScan_CancelMidScan(t *testing.T) {
	var handles []miner.Handle
	for i := 1; i <= 20; i++ {
		handles = append(handles, minertest.NewHandle(fmt.Sprintf("10.0.0.%d", i)))
	}
	resolver := minertest.NewResolver(handles...)
	fl := fleet.New()

	var c *Controller
	c = New(resolver, fl, nil, Options{
		ScanThreads: 1,
		OnProgress: func(s model.Scan) {
			if s.ProbedHosts == 5 {
				c.Cancel()
			}
		},
	})

	scan, err := c.Scan(context.Background(), "10.0.0.0/27")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if scan.Status != model.ScanCancelled {
		t.Errorf("Status = %q, want cancelled", scan.Status)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}

	n := fl.Len()
	if n > 5 {
		t.Errorf("fleet has %d records after cancel at 5 probes", n)
	}
	time.Sleep(50 * time.Millisecond)
	if fl.Len() != n {
		t.Errorf("fleet grew from %d to %d after the scan settled", n, fl.Len())
	}
}

func TestScan_InFlightFetchAwaited(t *testing.T) {
	h := minertest.NewHandle("10.0.0.1")
	h.Data = hashrate(90)
	h.Delay = 100 * time.Millisecond
	fl := fleet.New()
	c := New(minertest.NewResolver(h), fl, nil, Options{ScanThreads: 4})

	var once sync.Once
	fl.Subscribe(func(e fleet.Event) {
		if e.Kind == fleet.EventUpsert {
			once.Do(func() { c.Cancel() })
		}
	})

	scan, err := c.Scan(context.Background(), "10.0.0.0/30")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if scan.Status != model.ScanCancelled {
		t.Errorf("Status = %q, want cancelled", scan.Status)
	}
	r, ok := fl.Get("10.0.0.1")
	if !ok || r.Hashrate == nil || *r.Hashrate != 90 {
		t.Errorf("record = %+v, want telemetry written before idle", r)
	}
}

func TestScan_CancelledBeforeStartKeepsFleet(t *testing.T) {
	resolver := minertest.NewResolver(minertest.NewHandle("10.0.0.1"))
	fl := fleet.New()
	fl.Upsert("172.16.0.9", model.Record{})
	rec := &memRecorder{}
	c := New(resolver, fl, nil, Options{ScanThreads: 2, Recorder: rec})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scan, err := c.Scan(ctx, "10.0.0.0/30")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if scan.Status != model.ScanCancelled {
		t.Errorf("Status = %q, want cancelled", scan.Status)
	}
	if got := fl.IPs(); len(got) != 1 || got[0] != "172.16.0.9" {
		t.Errorf("fleet IPs = %v, want the previous fleet kept", got)
	}
	if resolver.Cleared() != 0 {
		t.Errorf("resolver cleared %d times, want 0", resolver.Cleared())
	}
	if len(rec.scans) != 1 || len(rec.snapshots) != 0 {
		t.Errorf("recorder = %+v, want the scan saved without a snapshot", rec)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
}

func TestStart_RejectsConcurrentScan(t *testing.T) {
	resolver := minertest.NewResolver()
	resolver.Delay = 20 * time.Millisecond
	c := New(resolver, fleet.New(), nil, Options{ScanThreads: 2})
	ctx := context.Background()

	if _, err := c.Start(ctx, "10.0.0.0/24"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Start(ctx, "10.0.1.0/24"); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("second Start() error = %v, want ErrScanInProgress", err)
	}

	if !c.Cancel() {
		t.Error("Cancel() = false while scanning")
	}
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if c.Cancel() {
		t.Error("Cancel() = true while idle")
	}
	if _, err := c.Start(ctx, "10.0.0.0/30"); err != nil {
		t.Errorf("Start() after idle error = %v", err)
	}
	_ = c.Wait(ctx)
}

func TestStart_BusyGuard(t *testing.T) {
	guard := worker.NewGuard(nil)
	ticket, err := guard.Begin("reboot")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer ticket.End()

	c := New(minertest.NewResolver(), fleet.New(), guard, Options{})
	if _, err := c.Start(context.Background(), "10.0.0.0/30"); !errors.Is(err, worker.ErrBusy) {
		t.Errorf("Start() error = %v, want ErrBusy", err)
	}
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
}

func TestStart_InvalidNetwork(t *testing.T) {
	c := New(minertest.NewResolver(), fleet.New(), nil, Options{})
	if _, err := c.Start(context.Background(), "nope"); err == nil {
		t.Error("Start() with a bad network should fail")
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Errorf("Wait() with no scan error = %v", err)
	}
}
