// Package dispatch fans bulk operations out over the fleet. Every operation
// resolves its targets, runs one call per device through a bounded pool and
// writes a short outcome string into each device record as results arrive.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paularlott/logger"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// ErrEmptyCommand is returned when SendCommand is given nothing to run.
var ErrEmptyCommand = errors.New("empty command")

// errSkipped marks a target the operation does not apply to.
var errSkipped = errors.New("not applicable")

// Store is the part of the fleet an operation reads and writes.
type Store interface {
	Upsert(ip string, partial model.Record)
	Get(ip string) (model.Record, bool)
	IPs() []string
}

// Recorder persists finished operations.
type Recorder interface {
	SaveOperation(op *model.Operation) error
}

// Progress is reported after every device completes.
type Progress struct {
	OperationID string              `json:"operation_id"`
	Kind        model.OperationKind `json:"kind"`
	Total       int                 `json:"total"`
	Done        int                 `json:"done"`
}

// Options configure a Dispatcher.
type Options struct {
	RefreshThreads int
	RebootThreads  int
	ConfigThreads  int
	CommandThreads int

	// DataRetries is the number of telemetry attempts per device on refresh.
	DataRetries int
	// Fields requested on refresh. Nil means all.
	Fields miner.FieldSet
	// SettleDelay is waited after a config push before refreshing.
	SettleDelay time.Duration

	Recorder   Recorder
	OnProgress func(Progress)
}

// Dispatcher runs bulk operations. It shares its guard with the scan
// controller so only one fleet-wide operation runs at a time.
type Dispatcher struct {
	resolver miner.Resolver
	store    Store
	guard    *worker.Guard
	opts     Options
	pools    map[model.OperationKind]*worker.Pool
}

// New creates a dispatcher.
func New(resolver miner.Resolver, store Store, guard *worker.Guard, opts Options) *Dispatcher {
	if opts.DataRetries < 1 {
		opts.DataRetries = 1
	}
	if guard == nil {
		guard = worker.NewGuard(nil)
	}
	return &Dispatcher{
		resolver: resolver,
		store:    store,
		guard:    guard,
		opts:     opts,
		pools: map[model.OperationKind]*worker.Pool{
			model.OpRefresh:        worker.NewPool("refresh", opts.RefreshThreads),
			model.OpReboot:         worker.NewPool("reboot", opts.RebootThreads),
			model.OpRestartBackend: worker.NewPool("restart-backend", opts.RebootThreads),
			model.OpLight:          worker.NewPool("light", opts.CommandThreads),
			model.OpUnlock:         worker.NewPool("unlock", opts.ConfigThreads),
			model.OpCommand:        worker.NewPool("command", opts.CommandThreads),
			model.OpConfig:         worker.NewPool("config", opts.ConfigThreads),
		},
	}
}

// Guard returns the shared operation guard.
func (d *Dispatcher) Guard() *worker.Guard { return d.guard }

// targets normalises an IP selection. An empty selection means every known
// device.
func (d *Dispatcher) targets(ips []string) []string {
	if len(ips) == 0 {
		return d.store.IPs()
	}
	seen := make(map[string]bool, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		out = append(out, ip)
	}
	return out
}

// outcome is what one device call produced.
type outcome struct {
	// output is written to the device record. Empty leaves it untouched.
	output string
	// patch is merged into the record alongside output.
	patch *model.Record
}

// call performs the operation on one resolved device.
type call func(ctx context.Context, h miner.Handle) (outcome, error)

// failure renders the output for a failed device.
type failure func(ip string, err error) string

// job describes one bulk operation.
type job struct {
	kind    model.OperationKind
	payload string
	ips     []string
	call    call
	failed  failure
}

// begin claims the guard and runs the job.
func (d *Dispatcher) begin(ctx context.Context, j job) (*model.Operation, error) {
	ticket, err := d.guard.Begin(string(j.kind))
	if err != nil {
		return nil, err
	}
	defer ticket.End()
	return d.execute(ctx, j, ticket), nil
}

// execute runs j over its targets and returns the summary. ticket, when set,
// is moved to draining once every unit has been issued.
func (d *Dispatcher) execute(ctx context.Context, j job, ticket *worker.Ticket) *model.Operation {
	op := &model.Operation{
		ID:        model.NewID(),
		Kind:      j.kind,
		Payload:   j.payload,
		Targets:   j.ips,
		StartedAt: time.Now(),
	}
	l := log.Logger().With("operation_id", op.ID).With("kind", string(j.kind))
	l.Info("Operation started", "targets", len(j.ips))

	in := make(chan worker.Unit[outcome])
	go func() {
		defer close(in)
		for _, ip := range j.ips {
			select {
			case in <- d.unit(ip, j.call):
			case <-ctx.Done():
				return
			}
		}
		if ticket != nil {
			ticket.Draining()
		}
	}()

	done := 0
	for res := range worker.Stream(ctx, d.pools[j.kind], in) {
		done++
		op.Add(d.apply(l, j, res))
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(Progress{OperationID: op.ID, Kind: j.kind, Total: len(j.ips), Done: done})
		}
	}

	op.CompletedAt = time.Now()
	l.Info("Operation finished",
		"succeeded", op.Succeeded, "failed", op.Failed, "skipped", op.Skipped,
		"duration", op.CompletedAt.Sub(op.StartedAt).Round(time.Millisecond))

	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.SaveOperation(op); err != nil {
			l.Error("Failed to save operation", "error", err)
		}
	}
	return op
}

func (d *Dispatcher) unit(ip string, fn call) worker.Unit[outcome] {
	return worker.Unit[outcome]{
		Key: ip,
		Run: func(ctx context.Context) (outcome, error) {
			h, err := d.resolver.Resolve(ctx, ip)
			if err != nil {
				return outcome{}, err
			}
			if h == nil {
				return outcome{}, fmt.Errorf("%w: no miner at %s", miner.ErrUnreachable, ip)
			}
			return fn(ctx, h)
		},
	}
}

// apply writes one device result into the store.
func (d *Dispatcher) apply(l logger.Logger, j job, res worker.Result[outcome]) model.OperationResult {
	r := model.OperationResult{IP: res.Key}

	switch {
	case errors.Is(res.Err, errSkipped):
		r.Skipped = true
		return r
	case res.Err != nil:
		l.Debug("Operation failed on device", "ip", res.Key, "error", res.Err)
		r.Error = res.Err.Error()
		if j.failed != nil {
			r.Output = j.failed(res.Key, res.Err)
		}
		if r.Output != "" {
			d.store.Upsert(res.Key, model.WithOutput(res.Key, r.Output))
		}
		return r
	}

	r.OK = true
	r.Output = res.Value.output
	patch := model.Record{}
	if res.Value.patch != nil {
		patch = *res.Value.patch
	}
	if r.Output != "" {
		out := r.Output
		patch.Output = &out
	}
	if res.Value.patch != nil || r.Output != "" {
		d.store.Upsert(res.Key, patch)
	}
	return r
}

// fixed returns a failure renderer that always writes the kind's failure
// message.
func fixed(kind model.OperationKind) failure {
	return func(string, error) string { return kind.Failed() }
}
