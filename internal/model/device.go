package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// Record is the fleet's fact sheet for one device. Every field except IP may
// be missing at any time.
type Record struct {
	IP string `json:"ip"`
	miner.Telemetry
	Output *string `json:"output,omitempty"`
}

// FromTelemetry wraps a driver result as a record for ip.
func FromTelemetry(ip string, t *miner.Telemetry) Record {
	r := Record{IP: ip}
	if t != nil {
		r.Telemetry = *t
	}
	return r
}

// WithOutput returns a record carrying only ip and an output message.
func WithOutput(ip, output string) Record {
	return Record{IP: ip, Output: &output}
}

// Merge overwrites every field src reports. Fields src leaves unset keep
// their current value. r keeps no references into src.
func (r *Record) Merge(src Record) {
	src = src.Clone()
	if src.IP != "" {
		r.IP = src.IP
	}
	if src.Model != nil {
		r.Model = src.Model
	}
	if src.Firmware != nil {
		r.Firmware = src.Firmware
	}
	if src.Hostname != nil {
		r.Hostname = src.Hostname
	}
	if src.Hashrate != nil {
		r.Hashrate = src.Hashrate
	}
	if src.ExpectedHashrate != nil {
		r.ExpectedHashrate = src.ExpectedHashrate
	}
	if src.Temperature != nil {
		r.Temperature = src.Temperature
	}
	if src.Wattage != nil {
		r.Wattage = src.Wattage
	}
	if src.WattageLimit != nil {
		r.WattageLimit = src.WattageLimit
	}
	if src.Hashboards != nil {
		r.Hashboards = src.Hashboards
	}
	if src.ExpectedChips != nil {
		r.ExpectedChips = src.ExpectedChips
	}
	if src.PoolGroups != nil {
		r.PoolGroups = src.PoolGroups
	}
	if src.FaultLight != nil {
		r.FaultLight = src.FaultLight
	}
	if src.Errors != nil {
		r.Errors = src.Errors
	}
	if src.Output != nil {
		r.Output = src.Output
	}
}

// Clone returns a deep copy of r: no pointer or slice is shared with it.
func (r Record) Clone() Record {
	out := Record{IP: r.IP, Output: clonePtr(r.Output)}
	t := &r.Telemetry
	out.Model = clonePtr(t.Model)
	out.Firmware = clonePtr(t.Firmware)
	out.Hostname = clonePtr(t.Hostname)
	out.Hashrate = clonePtr(t.Hashrate)
	out.ExpectedHashrate = clonePtr(t.ExpectedHashrate)
	out.Temperature = clonePtr(t.Temperature)
	out.Wattage = clonePtr(t.Wattage)
	out.WattageLimit = clonePtr(t.WattageLimit)
	out.ExpectedChips = clonePtr(t.ExpectedChips)
	out.FaultLight = clonePtr(t.FaultLight)
	if t.Hashboards != nil {
		out.Hashboards = make([]miner.Hashboard, len(t.Hashboards))
		for i, b := range t.Hashboards {
			b.Chips = clonePtr(b.Chips)
			b.ExpectedChips = clonePtr(b.ExpectedChips)
			b.Hashrate = clonePtr(b.Hashrate)
			b.Temperature = clonePtr(b.Temperature)
			out.Hashboards[i] = b
		}
	}
	if t.PoolGroups != nil {
		out.PoolGroups = make([]miner.PoolGroup, len(t.PoolGroups))
		for i, g := range t.PoolGroups {
			if g.Pools != nil {
				g.Pools = append([]miner.Pool(nil), g.Pools...)
			}
			out.PoolGroups[i] = g
		}
	}
	if t.Errors != nil {
		out.Errors = append([]miner.Error(nil), t.Errors...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LightOn reports the fault light state, treating unknown as off.
func (r *Record) LightOn() bool {
	return r.FaultLight != nil && *r.FaultLight
}

// TotalChips sums the chip counts of every board that reported one.
func (r *Record) TotalChips() *int {
	total, seen := 0, false
	for _, b := range r.Hashboards {
		if b.Chips != nil {
			total += *b.Chips
			seen = true
		}
	}
	if !seen {
		return nil
	}
	return &total
}

// PercentExpectedChips is the rounded share of expected chips present.
func (r *Record) PercentExpectedChips() *int {
	total := r.TotalChips()
	if total == nil || r.ExpectedChips == nil || *r.ExpectedChips <= 0 {
		return nil
	}
	pct := int(math.Round(float64(*total) / float64(*r.ExpectedChips) * 100))
	return &pct
}

// BoardChips returns the chip count of the board in position idx.
func (r *Record) BoardChips(idx int) *int {
	if idx < 0 || idx >= len(r.Hashboards) {
		return nil
	}
	return r.Hashboards[idx].Chips
}

// Pool returns the pool at position idx of the first group.
func (r *Record) Pool(idx int) (miner.Pool, bool) {
	if len(r.PoolGroups) == 0 || idx < 0 || idx >= len(r.PoolGroups[0].Pools) {
		return miner.Pool{}, false
	}
	return r.PoolGroups[0].Pools[idx], true
}

// Quota is the first group's quota, or "" when pools are unknown.
func (r *Record) Quota() string {
	if len(r.PoolGroups) == 0 {
		return ""
	}
	return strconv.Itoa(r.PoolGroups[0].Quota)
}

// PoolSplit renders the group quotas as "a/b/...". A single group renders as
// its bare quota and unknown pools as "".
func (r *Record) PoolSplit() string {
	parts := make([]string, 0, len(r.PoolGroups))
	for _, g := range r.PoolGroups {
		parts = append(parts, strconv.Itoa(g.Quota))
	}
	return strings.Join(parts, "/")
}
