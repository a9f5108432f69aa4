// Package registry lets out-of-tree drivers add device probes to the
// resolver without changing it.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// Probe recognises one kind of device at an address.
type Probe interface {
	Name() string
	// Probe returns nil, nil when the device at ip is not one it knows.
	Probe(ctx context.Context, ip string) (miner.Handle, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context, ip string) (miner.Handle, error)
}

func (p ProbeFunc) Name() string { return p.ProbeName }

func (p ProbeFunc) Probe(ctx context.Context, ip string) (miner.Handle, error) {
	return p.Fn(ctx, ip)
}

type entry struct {
	priority int
	probe    Probe
}

// Registry holds probes keyed by name
type Registry struct {
	mu     sync.RWMutex
	probes map[string]entry
}

var (
	registryInstance *Registry
	registryOnce     sync.Once
)

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		probes: make(map[string]entry),
	}
}

// GetRegistry returns the singleton registry instance
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		registryInstance = New()
	})
	return registryInstance
}

// Register adds or replaces a probe. Lower priority values are tried first.
func (r *Registry) Register(name string, priority int, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = entry{priority: priority, probe: p}
}

// Unregister removes a probe by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.probes, name)
}

// Probes returns the registered probes in priority order, ties by name.
func (r *Registry) Probes() []Probe {
	r.mu.RLock()
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	entries := make(map[string]entry, len(r.probes))
	for k, v := range r.probes {
		entries[k] = v
	}
	r.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool {
		a, b := entries[names[i]], entries[names[j]]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return names[i] < names[j]
	})

	out := make([]Probe, len(names))
	for i, name := range names {
		out[i] = entries[name].probe
	}
	return out
}

// Extend copies every probe of other whose name r does not already hold.
func (r *Registry) Extend(other *Registry) {
	if other == nil || other == r {
		return
	}
	other.mu.RLock()
	entries := make(map[string]entry, len(other.probes))
	for k, v := range other.probes {
		entries[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range entries {
		if _, ok := r.probes[name]; !ok {
			r.probes[name] = e
		}
	}
}

// ListProbes returns all registered probe names
func (r *Registry) ListProbes() []string {
	probes := r.Probes()
	names := make([]string, len(probes))
	for i, p := range probes {
		names[i] = p.Name()
	}
	return names
}
