package registry

import (
	"context"
	"testing"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

func nopProbe(name string) Probe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context, string) (miner.Handle, error) { return nil, nil }}
}

func TestRegistry_ProbeOrder(t *testing.T) {
	r := New()
	r.Register("zeta", 10, nopProbe("zeta"))
	r.Register("alpha", 10, nopProbe("alpha"))
	r.Register("first", 1, nopProbe("first"))

	got := r.ListProbes()
	want := []string{"first", "alpha", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("ListProbes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListProbes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	r.Unregister("alpha")
	if n := len(r.Probes()); n != 2 {
		t.Errorf("Probes() after Unregister = %d, want 2", n)
	}
}

func TestGetRegistry_Singleton(t *testing.T) {
	if GetRegistry() != GetRegistry() {
		t.Error("GetRegistry() returned different instances")
	}
}

func TestRegistry_Extend(t *testing.T) {
	base := New()
	base.Register("api", 10, nopProbe("api"))

	extra := New()
	extra.Register("api", 0, nopProbe("replacement"))
	extra.Register("vendor", 5, nopProbe("vendor"))

	base.Extend(extra)
	base.Extend(nil)
	base.Extend(base)

	got := base.ListProbes()
	if len(got) != 2 || got[0] != "vendor" || got[1] != "api" {
		t.Errorf("ListProbes() = %v, want [vendor api]", got)
	}
}
