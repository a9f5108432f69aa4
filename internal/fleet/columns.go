package fleet

import (
	"cmp"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

// Column identifies one presentable field of a record.
type Column int

const (
	ColIP Column = iota
	ColModel
	ColHostname
	ColFirmware
	ColHashrate
	ColNominal
	ColTemp
	ColWattage
	ColPowerLimit
	ColIdeal
	ColBoard1
	ColBoard2
	ColBoard3
	ColBoard4
	ColTotal
	ColChipPct
	ColQuota
	ColSplit
	ColPool1
	ColPool1User
	ColPool2
	ColPool2User
	ColPool3
	ColPool3User
	ColLight
	ColOutput
)

// Sort sentinels. A blank value sorts as blankSentinel; a numeric field the
// device never reported sorts as unreportedSentinel, below any real value.
const (
	blankSentinel      = -1
	unreportedSentinel = -300
)

// ColumnSpec describes how a column is rendered and ordered.
type ColumnSpec struct {
	Column Column
	Name   string
	ID     string
	Format func(r *model.Record) string
	key    func(r *model.Record) sortKey
}

var columnSpecs = [...]ColumnSpec{
	ColIP: {Name: "IP", ID: "ip",
		Format: func(r *model.Record) string { return r.IP },
		key:    func(r *model.Record) sortKey { return addrKey(r.IP) }},
	ColModel: {Name: "Model", ID: "model",
		Format: func(r *model.Record) string { return str(r.Model) },
		key:    func(r *model.Record) sortKey { return textKey(str(r.Model)) }},
	ColHostname: {Name: "Hostname", ID: "hostname",
		Format: func(r *model.Record) string { return str(r.Hostname) },
		key:    func(r *model.Record) sortKey { return textKey(str(r.Hostname)) }},
	ColFirmware: {Name: "Version", ID: "fw_ver",
		Format: func(r *model.Record) string { return str(r.Firmware) },
		key:    func(r *model.Record) sortKey { return textKey(str(r.Firmware)) }},
	ColHashrate: {Name: "Hashrate", ID: "hashrate",
		Format: func(r *model.Record) string { return thps(r.Hashrate) },
		key:    func(r *model.Record) sortKey { return floatKey(r.Hashrate, blankSentinel) }},
	ColNominal: {Name: "Nominal", ID: "expected_hashrate",
		Format: func(r *model.Record) string { return thps(r.ExpectedHashrate) },
		key:    func(r *model.Record) sortKey { return floatKey(r.ExpectedHashrate, unreportedSentinel) }},
	ColTemp: {Name: "Temp", ID: "temperature",
		Format: func(r *model.Record) string { return decimal(r.Temperature, 1) },
		key:    func(r *model.Record) sortKey { return floatKey(r.Temperature, unreportedSentinel) }},
	ColWattage: {Name: "Wattage", ID: "wattage",
		Format: func(r *model.Record) string { return integer(r.Wattage) },
		key:    func(r *model.Record) sortKey { return intKey(r.Wattage, unreportedSentinel) }},
	ColPowerLimit: {Name: "Power Limit", ID: "wattage_limit",
		Format: func(r *model.Record) string { return integer(r.WattageLimit) },
		key:    func(r *model.Record) sortKey { return intKey(r.WattageLimit, unreportedSentinel) }},
	ColIdeal: {Name: "Ideal", ID: "expected_chips",
		Format: func(r *model.Record) string { return integer(r.ExpectedChips) },
		key:    func(r *model.Record) sortKey { return intKey(r.ExpectedChips, unreportedSentinel) }},
	ColBoard1: boardColumn(0),
	ColBoard2: boardColumn(1),
	ColBoard3: boardColumn(2),
	ColBoard4: boardColumn(3),
	ColTotal: {Name: "Total", ID: "total_chips",
		Format: func(r *model.Record) string { return integer(r.TotalChips()) },
		key:    func(r *model.Record) sortKey { return intKey(r.TotalChips(), unreportedSentinel) }},
	ColChipPct: {Name: "Chip %", ID: "percent_expected_chips",
		Format: func(r *model.Record) string {
			if p := r.PercentExpectedChips(); p != nil {
				return strconv.Itoa(*p) + "%"
			}
			return ""
		},
		key: func(r *model.Record) sortKey { return intKey(r.PercentExpectedChips(), blankSentinel) }},
	ColQuota: {Name: "Quota", ID: "quota",
		Format: func(r *model.Record) string { return r.Quota() },
		key:    func(r *model.Record) sortKey { return textKey(r.Quota()) }},
	ColSplit: {Name: "Split", ID: "pool_split",
		Format: func(r *model.Record) string { return r.PoolSplit() },
		key:    func(r *model.Record) sortKey { return splitKey(r.PoolSplit()) }},
	ColPool1:     poolColumn(0, false),
	ColPool1User: poolColumn(0, true),
	ColPool2:     poolColumn(1, false),
	ColPool2User: poolColumn(1, true),
	ColPool3:     poolColumn(2, false),
	ColPool3User: poolColumn(2, true),
	ColLight: {Name: "Light", ID: "fault_light",
		Format: func(r *model.Record) string {
			if r.LightOn() {
				return "On"
			}
			return "Off"
		},
		key: func(r *model.Record) sortKey {
			if r.LightOn() {
				return numKey(1)
			}
			return numKey(0)
		}},
	ColOutput: {Name: "Output", ID: "output",
		Format: func(r *model.Record) string { return str(r.Output) },
		key:    func(r *model.Record) sortKey { return textKey(str(r.Output)) }},
}

func init() {
	for i := range columnSpecs {
		columnSpecs[i].Column = Column(i)
	}
}

// Spec returns the static description of c.
func (c Column) Spec() ColumnSpec {
	if c < 0 || int(c) >= len(columnSpecs) {
		return columnSpecs[ColIP]
	}
	return columnSpecs[c]
}

func (c Column) String() string { return c.Spec().Name }

// Columns returns every column in display order.
func Columns() []Column {
	out := make([]Column, len(columnSpecs))
	for i := range columnSpecs {
		out[i] = Column(i)
	}
	return out
}

// ParseColumn resolves a header name or field id, ignoring a trailing sort
// arrow and case.
func ParseColumn(name string) (Column, error) {
	name = strings.TrimSpace(strings.TrimRight(name, "▲▼"))
	for i, spec := range columnSpecs {
		if strings.EqualFold(name, spec.Name) || strings.EqualFold(name, spec.ID) {
			return Column(i), nil
		}
	}
	return ColIP, fmt.Errorf("unknown column %q", name)
}

func boardColumn(idx int) ColumnSpec {
	return ColumnSpec{
		Name:   fmt.Sprintf("Board %d", idx+1),
		ID:     fmt.Sprintf("board_%d", idx+1),
		Format: func(r *model.Record) string { return integer(r.BoardChips(idx)) },
		key:    func(r *model.Record) sortKey { return intKey(r.BoardChips(idx), unreportedSentinel) },
	}
}

func poolColumn(idx int, user bool) ColumnSpec {
	value := func(r *model.Record) string {
		p, ok := r.Pool(idx)
		if !ok {
			return ""
		}
		if user {
			return p.User
		}
		return p.URL
	}
	spec := ColumnSpec{
		Name:   fmt.Sprintf("Pool %d", idx+1),
		ID:     fmt.Sprintf("pool_%d_url", idx+1),
		Format: value,
		key:    func(r *model.Record) sortKey { return textKey(value(r)) },
	}
	if user {
		spec.Name += " User"
		spec.ID = fmt.Sprintf("pool_%d_user", idx+1)
	}
	return spec
}

type keyKind int

const (
	keyNum keyKind = iota
	keyText
	keyAddr
)

type sortKey struct {
	kind keyKind
	num  float64
	text string
	addr netip.Addr
}

func numKey(v float64) sortKey { return sortKey{kind: keyNum, num: v} }
func textKey(v string) sortKey { return sortKey{kind: keyText, text: v} }

func addrKey(ip string) sortKey {
	addr, _ := netip.ParseAddr(ip)
	return sortKey{kind: keyAddr, addr: addr, text: ip}
}

func floatKey(v *float64, missing float64) sortKey {
	if v == nil {
		return numKey(missing)
	}
	return numKey(*v)
}

func intKey(v *int, missing float64) sortKey {
	if v == nil {
		return numKey(missing)
	}
	return numKey(float64(*v))
}

// splitKey orders "a/b" quota splits by their first number. A blank split
// sorts as blankSentinel and a single quota as zero.
func splitKey(split string) sortKey {
	if split == "" {
		return numKey(blankSentinel)
	}
	head, _, found := strings.Cut(split, "/")
	if !found {
		return numKey(0)
	}
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return numKey(0)
	}
	return numKey(float64(n))
}

func compareKeys(a, b sortKey) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case keyAddr:
		if c := a.addr.Compare(b.addr); c != 0 {
			return c
		}
		return strings.Compare(a.text, b.text)
	case keyText:
		return strings.Compare(a.text, b.text)
	default:
		return cmp.Compare(a.num, b.num)
	}
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func integer(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func decimal(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func thps(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f TH/s", *v)
}
