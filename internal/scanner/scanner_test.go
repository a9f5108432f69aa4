package scanner

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/martinsuchenak/asicfleet/internal/miner/minertest"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{"", DefaultNetwork, false},
		{"10.0.0.5", "10.0.0.0/24", false},
		{"10.0.0.5/30", "10.0.0.4/30", false},
		{"10.1.2.3/255.255.0.0", "10.1.0.0/16", false},
		{" 192.168.10.0/255.255.255.252 ", "192.168.10.0/30", false},
		{"10.0.0.0/8", "", true},
		{"10.0.0.0/255.0.255.0", "", true},
		{"10.0.0.0/33", "", true},
		{"fe80::1", "", true},
		{"not-an-ip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseNetwork(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNetwork() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("ParseNetwork() error = %v, want ErrInvalidNetwork", err)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParseNetwork() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHosts(t *testing.T) {
	tests := []struct {
		cidr  string
		count int
		first string
		last  string
	}{
		{"10.0.0.0/24", 254, "10.0.0.1", "10.0.0.254"},
		{"10.0.0.0/30", 2, "10.0.0.1", "10.0.0.2"},
		{"10.0.0.0/31", 2, "10.0.0.0", "10.0.0.1"},
		{"10.0.0.7/32", 1, "10.0.0.7", "10.0.0.7"},
		{"10.0.0.0/23", 510, "10.0.0.1", "10.0.1.254"},
	}
	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			hosts := Hosts(netip.MustParsePrefix(tt.cidr))
			if len(hosts) != tt.count {
				t.Fatalf("Hosts() = %d hosts, want %d", len(hosts), tt.count)
			}
			if hosts[0] != tt.first || hosts[len(hosts)-1] != tt.last {
				t.Errorf("Hosts() range = %s..%s, want %s..%s", hosts[0], hosts[len(hosts)-1], tt.first, tt.last)
			}
		})
	}
}

func collect(ch <-chan miner.Handle) []miner.Handle {
	var out []miner.Handle
	for h := range ch {
		out = append(out, h)
	}
	return out
}

func TestDiscover_SlashThirty(t *testing.T) {
	resolver := minertest.NewResolver(minertest.NewHandle("10.0.0.1"))
	s := New(resolver, Options{Concurrency: 10})

	var last Progress
	found := collect(s.Discover(context.Background(), netip.MustParsePrefix("10.0.0.0/30"), func(p Progress) { last = p }))

	if len(found) != 1 || found[0].IP() != "10.0.0.1" {
		t.Fatalf("Discover() = %v, want exactly 10.0.0.1", found)
	}
	if last.Total != 2 || last.Probed != 2 || last.Found != 1 {
		t.Errorf("progress = %+v", last)
	}
}

func TestDiscover_CancelStopsProbing(t *testing.T) {
	var handles []miner.Handle
	for _, ip := range Hosts(netip.MustParsePrefix("10.0.0.0/27")) {
		handles = append(handles, minertest.NewHandle(ip))
	}
	resolver := minertest.NewResolver(handles...)
	s := New(resolver, Options{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	found := collect(s.Discover(ctx, netip.MustParsePrefix("10.0.0.0/27"), func(p Progress) {
		if p.Probed == 5 {
			cancel()
		}
	}))

	if len(found) > 5 {
		t.Errorf("Discover() yielded %d handles after cancel at 5", len(found))
	}
	// One probe may already be running when the fifth result is handled.
	if n := resolver.Resolved(); n > 6 {
		t.Errorf("resolver called %d times, want at most 6", n)
	}
}

func TestDiscover_RateLimited(t *testing.T) {
	resolver := minertest.NewResolver(minertest.NewHandle("10.0.0.1"), minertest.NewHandle("10.0.0.2"))
	s := New(resolver, Options{Concurrency: 4, Rate: 1000})

	found := collect(s.Discover(context.Background(), netip.MustParsePrefix("10.0.0.0/30"), nil))
	if len(found) != 2 {
		t.Errorf("Discover() = %d handles, want 2", len(found))
	}
}
