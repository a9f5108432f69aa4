// Package minertest provides in-memory device handles and resolvers for
// tests.
package minertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

// Handle is a scriptable miner.Handle.
type Handle struct {
	Addr    string
	Fam     miner.Family
	ModelID string

	// Telemetry returned by every fetch. Nil gives an empty record.
	Data *miner.Telemetry
	// Errs maps an operation name (telemetry, command, push, get-config,
	// reboot, restart, light, unlock) to the error it returns.
	Errs map[string]error
	// Output returned by SendCommand.
	Output string
	// Delay is slept before every call, honouring ctx.
	Delay time.Duration
	// Config returned by GetConfig.
	Config *minerconfig.Config

	mu     sync.Mutex
	calls  []string
	pushed []*minerconfig.Config
	light  *bool
}

var _ miner.Handle = (*Handle)(nil)

// NewHandle returns an antminer handle at ip.
func NewHandle(ip string) *Handle {
	return &Handle{Addr: ip, Fam: miner.FamilyAntminer, ModelID: "Antminer S9"}
}

func (h *Handle) IP() string           { return h.Addr }
func (h *Handle) Family() miner.Family { return h.Fam }
func (h *Handle) Model() string        { return h.ModelID }

func (h *Handle) record(ctx context.Context, op string) error {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	h.mu.Unlock()

	if h.Delay > 0 {
		select {
		case <-time.After(h.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.Errs[op]
}

// Calls returns the operations invoked so far.
func (h *Handle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Pushed returns the configs received by PushConfig.
func (h *Handle) Pushed() []*minerconfig.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*minerconfig.Config(nil), h.pushed...)
}

// Light returns the last fault light state set.
func (h *Handle) Light() *bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.light
}

func (h *Handle) Telemetry(ctx context.Context, _ miner.FieldSet) (*miner.Telemetry, error) {
	if err := h.record(ctx, "telemetry"); err != nil {
		return nil, err
	}
	if h.Data == nil {
		return &miner.Telemetry{}, nil
	}
	t := *h.Data
	return &t, nil
}

func (h *Handle) SendCommand(ctx context.Context, command string) (string, error) {
	if err := h.record(ctx, "command"); err != nil {
		return "", err
	}
	return h.Output, nil
}

func (h *Handle) PushConfig(ctx context.Context, cfg *minerconfig.Config) error {
	if err := h.record(ctx, "push"); err != nil {
		return err
	}
	h.mu.Lock()
	h.pushed = append(h.pushed, cfg)
	h.mu.Unlock()
	return nil
}

func (h *Handle) GetConfig(ctx context.Context) (*minerconfig.Config, error) {
	if err := h.record(ctx, "get-config"); err != nil {
		return nil, err
	}
	if h.Config == nil {
		return nil, fmt.Errorf("%w: no config", miner.ErrProtocol)
	}
	return h.Config.Clone(), nil
}

func (h *Handle) Reboot(ctx context.Context) error { return h.record(ctx, "reboot") }

func (h *Handle) RestartBackend(ctx context.Context) error { return h.record(ctx, "restart") }

func (h *Handle) SetFaultLight(ctx context.Context, on bool) error {
	if err := h.record(ctx, "light"); err != nil {
		return err
	}
	h.mu.Lock()
	h.light = &on
	h.mu.Unlock()
	return nil
}

func (h *Handle) UnlockAdmin(ctx context.Context) error {
	if h.Fam != miner.FamilyWhatsminer {
		return miner.ErrUnsupported
	}
	return h.record(ctx, "unlock")
}

// Resolver resolves from a fixed set of handles.
type Resolver struct {
	// Delay is slept before every resolution, honouring ctx.
	Delay time.Duration

	mu       sync.Mutex
	handles  map[string]miner.Handle
	resolved int
	cleared  int
}

var _ miner.Resolver = (*Resolver)(nil)

// NewResolver returns a resolver that answers for handles.
func NewResolver(handles ...miner.Handle) *Resolver {
	r := &Resolver{handles: make(map[string]miner.Handle)}
	for _, h := range handles {
		r.handles[h.IP()] = h
	}
	return r
}

// Add makes h resolvable.
func (r *Resolver) Add(h miner.Handle) {
	r.mu.Lock()
	r.handles[h.IP()] = h
	r.mu.Unlock()
}

func (r *Resolver) Resolve(ctx context.Context, ip string) (miner.Handle, error) {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved++
	h, ok := r.handles[ip]
	if !ok {
		return nil, nil
	}
	return h, nil
}

// Clear counts cache clears; the handle set is kept.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cleared++
	r.mu.Unlock()
}

// Resolved returns the number of Resolve calls that reached the handle set.
func (r *Resolver) Resolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Cleared returns the number of Clear calls.
func (r *Resolver) Cleared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleared
}
