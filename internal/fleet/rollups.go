package fleet

import (
	"fmt"
	"math"
	"strconv"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

// petaThreshold is the expected hashrate (TH/s) above which totals are
// shown in PH/s.
const petaThreshold = 999

// Rollups are the fleet-wide totals. Hashrates are in TH/s.
type Rollups struct {
	Count            int     `json:"count"`
	Hashrate         float64 `json:"hashrate"`
	ExpectedHashrate float64 `json:"expected_hashrate"`
	Wattage          int     `json:"wattage"`
	WattageLimit     int     `json:"wattage_limit"`
}

// Rollups returns the totals as of the last mutation.
func (s *State) Rollups() Rollups {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollups
}

// recompute must be called with s.mu held for writing.
func (s *State) recompute() {
	var r Rollups
	r.Count = len(s.records)
	for _, rec := range s.records {
		if rec.Hashrate != nil {
			r.Hashrate += *rec.Hashrate
		}
		if rec.ExpectedHashrate != nil {
			r.ExpectedHashrate += *rec.ExpectedHashrate
		}
		if rec.Wattage != nil {
			r.Wattage += *rec.Wattage
		}
		if rec.WattageLimit != nil {
			r.WattageLimit += *rec.WattageLimit
		}
	}
	s.rollups = r
}

// FormatCount renders the device count for a status bar.
func FormatCount(r Rollups) string {
	return fmt.Sprintf("Miners: %d", r.Count)
}

// FormatHashrate renders "Hashrate: cur/expected TH/s", switching to PH/s
// once the expected total exceeds 999 TH/s.
func FormatHashrate(r Rollups) string {
	cur, exp := math.Round(r.Hashrate), math.Round(r.ExpectedHashrate)
	if exp > petaThreshold {
		return fmt.Sprintf("Hashrate: %s/%s PH/s", peta(cur), peta(exp))
	}
	return fmt.Sprintf("Hashrate: %d/%d TH/s", int64(cur), int64(exp))
}

// FormatWattage renders "Wattage: cur/limit W".
func FormatWattage(r Rollups) string {
	return fmt.Sprintf("Wattage: %d/%d W", r.Wattage, r.WattageLimit)
}

func peta(th float64) string {
	return strconv.FormatFloat(math.Round(th/1000*100)/100, 'f', -1, 64)
}

// BoardStatus is one hashboard line of the board report.
type BoardStatus struct {
	Slot     int  `json:"slot"`
	Chips    *int `json:"chips,omitempty"`
	Expected *int `json:"expected,omitempty"`
	Bad      bool `json:"bad"`
}

// BoardRow is the board report entry for one device.
type BoardRow struct {
	IP            string        `json:"ip"`
	Model         string        `json:"model,omitempty"`
	Boards        []BoardStatus `json:"boards"`
	TotalChips    *int          `json:"total_chips,omitempty"`
	ExpectedChips *int          `json:"expected_chips,omitempty"`
	BadBoards     int           `json:"bad_boards"`
}

// DefaultChipIdeal is the share of expected chips below which a board is
// reported bad.
const DefaultChipIdeal = 0.9

// BoardReport lists every device with its per-board chip counts in
// presentation order. A board is bad when it reports fewer than ideal times
// its expected chips, or no chips at all while an expectation is known.
func (s *State) BoardReport(ideal float64) []BoardRow {
	if ideal <= 0 {
		ideal = DefaultChipIdeal
	}

	recs := s.Snapshot()
	rows := make([]BoardRow, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		row := BoardRow{
			IP:            rec.IP,
			TotalChips:    rec.TotalChips(),
			ExpectedChips: rec.ExpectedChips,
		}
		if rec.Model != nil {
			row.Model = *rec.Model
		}
		for _, b := range rec.Hashboards {
			st := BoardStatus{Slot: b.Slot, Chips: b.Chips, Expected: boardExpected(rec, b.ExpectedChips)}
			if st.Expected != nil {
				st.Bad = st.Chips == nil || float64(*st.Chips) < ideal*float64(*st.Expected)
			}
			if st.Bad {
				row.BadBoards++
			}
			row.Boards = append(row.Boards, st)
		}
		rows = append(rows, row)
	}
	return rows
}

func boardExpected(rec *model.Record, own *int) *int {
	if own != nil {
		return own
	}
	if rec.ExpectedChips == nil || len(rec.Hashboards) == 0 {
		return nil
	}
	per := *rec.ExpectedChips / len(rec.Hashboards)
	return &per
}

// ErrorRow is one device-reported error.
type ErrorRow struct {
	IP      string `json:"ip"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Errors flattens every device's error list in presentation order.
func (s *State) Errors() []ErrorRow {
	var rows []ErrorRow
	for _, rec := range s.Snapshot() {
		for _, e := range rec.Errors {
			rows = append(rows, ErrorRow{IP: rec.IP, Code: e.Code, Message: e.Message})
		}
	}
	return rows
}
