// Package miner resolves IP addresses to device handles for the supported
// firmware families.
package miner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/martinsuchenak/asicfleet/pkg/registry"
)

// DefaultUsers are the shell logins per family. Passwords come from
// configuration.
var DefaultUsers = map[miner.Family]string{
	miner.FamilyAntminer:    "root",
	miner.FamilyBOSminer:    "root",
	miner.FamilyVNish:       "root",
	miner.FamilyWhatsminer:  "admin",
	miner.FamilyInnosilicon: "admin",
	miner.FamilyGoldshell:   "admin",
	miner.FamilyBitaxe:      "",
}

// shellFamilies expose an SSH login on the control board.
var shellFamilies = map[miner.Family]bool{
	miner.FamilyAntminer:    true,
	miner.FamilyBOSminer:    true,
	miner.FamilyVNish:       true,
	miner.FamilyInnosilicon: true,
}

// Options configure a Resolver.
type Options struct {
	// Retries is the number of resolve attempts per address.
	Retries int
	// PingRetries is the number of connection attempts on the API port
	// within one resolve attempt.
	PingRetries int
	// Timeout bounds a single probe attempt and every later device call.
	Timeout time.Duration
	// Passwords per family.
	Passwords map[miner.Family]string

	APIPort  int
	SSHPort  int
	HTTPPort int
	// DisableHTTP skips the AxeOS probe.
	DisableHTTP bool

	// Registry contributes extra probes. They are merged with the built-in
	// ones when the resolver is created and tried in priority order.
	Registry *registry.Registry
}

// Names and priorities of the built-in probes. Lower runs first.
const (
	ProbeCGMinerAPI = "cgminer-api"
	ProbeAxeOS      = "axeos-http"

	PriorityCGMinerAPI = 10
	PriorityAxeOS      = 20
)

// Resolver probes addresses and caches the handles it builds.
type Resolver struct {
	opts   Options
	probes *registry.Registry

	mu    sync.RWMutex
	cache map[string]miner.Handle
}

var _ miner.Resolver = (*Resolver)(nil)

// NewResolver creates a resolver with the given options.
func NewResolver(opts Options) *Resolver {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.PingRetries < 1 {
		opts.PingRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.APIPort == 0 {
		opts.APIPort = DefaultAPIPort
	}
	r := &Resolver{
		opts:   opts,
		probes: registry.New(),
		cache:  make(map[string]miner.Handle),
	}
	r.probes.Register(ProbeCGMinerAPI, PriorityCGMinerAPI, registry.ProbeFunc{ProbeName: ProbeCGMinerAPI, Fn: r.probeAPI})
	if !opts.DisableHTTP {
		r.probes.Register(ProbeAxeOS, PriorityAxeOS, registry.ProbeFunc{ProbeName: ProbeAxeOS, Fn: r.probeHTTP})
	}
	r.probes.Extend(opts.Registry)
	return r
}

// Probes lists the probe names in the order Resolve tries them.
func (r *Resolver) Probes() []string {
	return r.probes.ListProbes()
}

// Credential returns the login for a family.
func (r *Resolver) Credential(f miner.Family) Credential {
	return Credential{User: DefaultUsers[f], Password: r.opts.Passwords[f]}
}

// Resolve returns the cached handle for ip or probes it. Nothing answering
// gives nil, nil; only cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, ip string) (miner.Handle, error) {
	r.mu.RLock()
	h, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	for attempt := 1; attempt <= r.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := r.probe(ctx, ip)
		if err != nil {
			return nil, err
		}
		if h != nil {
			r.mu.Lock()
			if cached, ok := r.cache[ip]; ok {
				h = cached
			} else {
				r.cache[ip] = h
			}
			r.mu.Unlock()
			log.Debug("Device resolved", "ip", ip, "family", h.Family(), "model", h.Model(), "attempt", attempt)
			return h, nil
		}
	}
	return nil, nil
}

// probe runs one attempt over every registered probe.
func (r *Resolver) probe(ctx context.Context, ip string) (miner.Handle, error) {
	// Bounds a whole probe, including the API ping retries.
	limit := time.Duration(r.opts.PingRetries+1) * r.opts.Timeout
	for _, p := range r.probes.Probes() {
		pctx, cancel := context.WithTimeout(ctx, limit)
		h, err := p.Probe(pctx, ip)
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			log.Trace("Probe failed", "ip", ip, "probe", p.Name(), "error", err)
			continue
		}
		if h != nil {
			return h, nil
		}
	}
	return nil, nil
}

func (r *Resolver) probeAPI(ctx context.Context, ip string) (miner.Handle, error) {
	api := newAPIClient(ip, r.opts.APIPort, r.opts.Timeout)
	var resp apiResponse
	var err error
	for ping := 0; ping < r.opts.PingRetries; ping++ {
		resp, err = api.Send(ctx, "version", "")
		if !errors.Is(err, miner.ErrUnreachable) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		log.Trace("API probe failed", "ip", ip, "error", err)
		return nil, nil
	}

	id := classify(resp)
	if id.model == "" {
		if details, err := api.Send(ctx, "devdetails", ""); err == nil {
			for _, d := range details.section("DEVDETAILS") {
				if m, ok := text(d, "Model", "Name"); ok {
					id.model = m
					break
				}
			}
		}
	}

	h := &apiHandle{
		ip:       ip,
		family:   id.family,
		model:    id.model,
		firmware: id.firmware,
		api:      api,
	}
	if shellFamilies[id.family] {
		h.ssh = newSSHRunner(ip, r.opts.SSHPort, r.Credential(id.family), r.opts.Timeout)
	}
	return h, nil
}

func (r *Resolver) probeHTTP(ctx context.Context, ip string) (miner.Handle, error) {
	// Probes are not retried at the HTTP layer; the resolver owns retries.
	probe := newBitaxeClient(ip, r.opts.HTTPPort, 0, r.opts.Timeout)
	info, err := probe.Info(ctx)
	if err != nil {
		log.Trace("HTTP probe failed", "ip", ip, "error", err)
		return nil, nil
	}

	model := "Bitaxe"
	if info.ASICModel != "" {
		model = "Bitaxe " + info.ASICModel
	}
	return &bitaxeHandle{
		ip:     ip,
		model:  model,
		client: newBitaxeClient(ip, r.opts.HTTPPort, 2, r.opts.Timeout),
	}, nil
}

// Clear drops every cached handle.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]miner.Handle)
	r.mu.Unlock()
}

// Cached returns the number of cached handles.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
