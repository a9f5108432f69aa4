package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// DefaultNetwork is scanned when no network is given.
const DefaultNetwork = "192.168.1.0/24"

// minPrefixBits limits a scan to at most a /16.
const minPrefixBits = 16

// ErrInvalidNetwork is returned for network specs that cannot be scanned.
var ErrInvalidNetwork = errors.New("invalid network")

// Options configure a Scanner.
type Options struct {
	// Concurrency caps the number of probes in flight.
	Concurrency int
	// Rate caps probes started per second. Zero means unlimited.
	Rate float64
}

// Progress is reported after every probe.
type Progress struct {
	Total  int
	Probed int
	Found  int
}

// Scanner discovers devices on an IPv4 network.
type Scanner struct {
	resolver miner.Resolver
	pool     *worker.Pool
	limiter  *rate.Limiter
}

// New creates a scanner that resolves addresses through resolver.
func New(resolver miner.Resolver, opts Options) *Scanner {
	s := &Scanner{
		resolver: resolver,
		pool:     worker.NewPool("scan", opts.Concurrency),
	}
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return s
}

// Pool returns the probe pool.
func (s *Scanner) Pool() *worker.Pool { return s.pool }

// ParseNetwork accepts "addr", "addr/bits" or "addr/dotted-mask". A bare
// address means its /24. An empty spec means DefaultNetwork.
func ParseNetwork(spec string) (netip.Prefix, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultNetwork
	}

	addrPart, maskPart, hasMask := strings.Cut(spec, "/")
	addr, err := netip.ParseAddr(strings.TrimSpace(addrPart))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidNetwork, spec, err)
	}
	if !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: %q: only IPv4 networks can be scanned", ErrInvalidNetwork, spec)
	}

	bits := 24
	if hasMask {
		bits, err = maskBits(strings.TrimSpace(maskPart))
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidNetwork, spec, err)
		}
	}
	if bits < minPrefixBits {
		return netip.Prefix{}, fmt.Errorf("%w: %q: larger than /%d", ErrInvalidNetwork, spec, minPrefixBits)
	}

	return netip.PrefixFrom(addr, bits).Masked(), nil
}

// maskBits parses a prefix length or a dotted netmask.
func maskBits(mask string) (int, error) {
	if n, err := strconv.Atoi(mask); err == nil {
		if n < 0 || n > 32 {
			return 0, fmt.Errorf("prefix length %d out of range", n)
		}
		return n, nil
	}

	m, err := netip.ParseAddr(mask)
	if err != nil || !m.Is4() {
		return 0, fmt.Errorf("bad mask %q", mask)
	}
	b := m.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	ones := 0
	for v&(1<<31) != 0 {
		ones++
		v <<= 1
	}
	if v != 0 {
		return 0, fmt.Errorf("non-contiguous mask %q", mask)
	}
	return ones, nil
}

// Hosts lists the usable addresses of a network in order. Network and
// broadcast addresses are skipped for /30 and larger.
func Hosts(p netip.Prefix) []string {
	p = p.Masked()
	bits := p.Bits()

	b := p.Addr().As4()
	first := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	last := first | (uint32(1)<<(32-bits) - 1)
	if bits <= 30 {
		first++
		last--
	}

	hosts := make([]string, 0, last-first+1)
	for v := first; ; v++ {
		hosts = append(hosts, netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String())
		if v == last {
			break
		}
	}
	return hosts
}

// Discover probes every host of p and yields handles for the ones that
// answer, in completion order. The channel closes once every started probe
// has finished. After ctx is cancelled no new probes start and nothing more
// is yielded. onProbe, when set, is called after each probe from the
// goroutine feeding the channel.
func (s *Scanner) Discover(ctx context.Context, p netip.Prefix, onProbe func(Progress)) <-chan miner.Handle {
	hosts := Hosts(p)
	units := make([]worker.Unit[miner.Handle], 0, len(hosts))
	for _, ip := range hosts {
		units = append(units, worker.Unit[miner.Handle]{
			Key: ip,
			Run: func(ctx context.Context) (miner.Handle, error) {
				if s.limiter != nil {
					if err := s.limiter.Wait(ctx); err != nil {
						return nil, err
					}
				}
				return s.resolver.Resolve(ctx, ip)
			},
		})
	}

	log.Info("Starting miner discovery", "network", p.String(), "hosts", len(hosts), "concurrency", s.pool.Limit())

	out := make(chan miner.Handle)
	go func() {
		defer close(out)

		progress := Progress{Total: len(hosts)}
		for res := range worker.Run(ctx, s.pool, units) {
			progress.Probed++
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				log.Debug("Probe failed", "ip", res.Key, "error", res.Err)
			}
			found := res.Err == nil && res.Value != nil && ctx.Err() == nil
			if found {
				progress.Found++
			}
			if progress.Probed%50 == 0 {
				log.Info("Discovery progress", "probed", progress.Probed, "total", progress.Total)
			}
			if onProbe != nil {
				onProbe(progress)
			}
			if !found || ctx.Err() != nil {
				continue
			}

			select {
			case out <- res.Value:
			case <-ctx.Done():
			}
		}
		log.Info("Miner discovery finished", "network", p.String(), "probed", progress.Probed, "found", progress.Found, "cancelled", ctx.Err() != nil)
	}()
	return out
}
