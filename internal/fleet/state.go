// Package fleet holds the shared, keyed-by-IP view of every known device.
package fleet

import (
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
)

// EventKind names a fleet change.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventClear  EventKind = "clear"
	EventSort   EventKind = "sort"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind    EventKind     `json:"kind"`
	IP      string        `json:"ip,omitempty"`
	Record  *model.Record `json:"record,omitempty"`
	Rollups Rollups       `json:"rollups"`
}

// State is the process-wide fleet view. Writers only ever merge their own
// fields into a record, so concurrent dispatchers can update the same device.
type State struct {
	mu      sync.RWMutex
	records map[string]*model.Record
	sortKey Column
	reverse bool
	rollups Rollups

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates an empty fleet sorted by IP ascending.
func New() *State {
	return &State{
		records: make(map[string]*model.Record),
		sortKey: ColIP,
		subs:    make(map[int]func(Event)),
	}
}

// Upsert merges partial into the record for ip, creating it if needed. An
// empty ip is ignored. The fault light defaults to off until some writer
// states it.
func (s *State) Upsert(ip string, partial model.Record) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return
	}
	partial.IP = ip

	s.mu.Lock()
	rec, ok := s.records[ip]
	if !ok {
		rec = &model.Record{IP: ip}
		s.records[ip] = rec
	}
	if partial.FaultLight == nil && rec.FaultLight == nil {
		off := false
		partial.FaultLight = &off
	}
	rec.Merge(partial)
	s.recompute()
	snapshot := rec.Clone()
	ev := Event{Kind: EventUpsert, IP: ip, Record: &snapshot, Rollups: s.rollups}
	s.mu.Unlock()

	s.publish(ev)
}

// Clear drops every record and zeroes the rollups.
func (s *State) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*model.Record)
	s.rollups = Rollups{}
	s.mu.Unlock()

	log.Debug("Fleet cleared")
	s.publish(Event{Kind: EventClear})
}

// Get returns a copy of the record for ip.
func (s *State) Get(ip string) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ip]
	if !ok {
		return model.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of records.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IPs returns every known IP in numeric order.
func (s *State) IPs() []string {
	s.mu.RLock()
	ips := make([]string, 0, len(s.records))
	for ip := range s.records {
		ips = append(ips, ip)
	}
	s.mu.RUnlock()

	slices.SortFunc(ips, compareIP)
	return ips
}

// SetSort selects the sort column. Selecting the current column again flips
// the direction; a new column starts ascending.
func (s *State) SetSort(col Column) {
	s.mu.Lock()
	if s.sortKey == col {
		s.reverse = !s.reverse
	} else {
		s.sortKey = col
		s.reverse = false
	}
	ev := Event{Kind: EventSort, Rollups: s.rollups}
	s.mu.Unlock()

	s.publish(ev)
}

// SetSortByName is SetSort for a header name such as "Hashrate▲".
func (s *State) SetSortByName(name string) error {
	col, err := ParseColumn(name)
	if err != nil {
		return err
	}
	s.SetSort(col)
	return nil
}

// Sort returns the current sort column and whether it is descending.
func (s *State) Sort() (Column, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortKey, s.reverse
}

// Snapshot returns copies of every record in presentation order: first by
// IP, then stably by the sort column.
func (s *State) Snapshot() []model.Record {
	s.mu.RLock()
	recs := make([]model.Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r.Clone())
	}
	col, reverse := s.sortKey, s.reverse
	s.mu.RUnlock()

	sortRecords(recs, col, reverse)
	return recs
}

// Table renders the snapshot for the given columns. The active sort column
// header carries an arrow.
func (s *State) Table(cols []Column) (headers []string, rows [][]string) {
	recs := s.Snapshot()
	active, reverse := s.Sort()

	headers = make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Spec().Name
		if c == active {
			if reverse {
				headers[i] += "▼"
			} else {
				headers[i] += "▲"
			}
		}
	}

	rows = make([][]string, len(recs))
	for i := range recs {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = c.Spec().Format(&recs[i])
		}
		rows[i] = row
	}
	return headers, rows
}

// Subscribe registers fn for change events and returns a function that
// removes it. fn runs on the mutating goroutine and must not block.
func (s *State) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *State) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func sortRecords(recs []model.Record, col Column, reverse bool) {
	slices.SortFunc(recs, func(a, b model.Record) int { return compareIP(a.IP, b.IP) })

	key := col.Spec().key
	slices.SortStableFunc(recs, func(a, b model.Record) int {
		c := compareKeys(key(&a), key(&b))
		if reverse {
			return -c
		}
		return c
	})
}

func compareIP(a, b string) int {
	aa, errA := netip.ParseAddr(a)
	bb, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		if c := aa.Compare(bb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
