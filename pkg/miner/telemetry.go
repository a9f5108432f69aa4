package miner

// Field names a telemetry value a caller may ask for.
type Field string

const (
	FieldModel            Field = "model"
	FieldFirmware         Field = "fw_ver"
	FieldHostname         Field = "hostname"
	FieldHashrate         Field = "hashrate"
	FieldExpectedHashrate Field = "expected_hashrate"
	FieldHashboards       Field = "hashboards"
	FieldTemperature      Field = "temperature"
	FieldWattage          Field = "wattage"
	FieldWattageLimit     Field = "wattage_limit"
	FieldFaultLight       Field = "fault_light"
	FieldPools            Field = "pools"
	FieldErrors           Field = "errors"
)

// FieldSet is a set of requested fields. A nil set means every field.
type FieldSet map[Field]struct{}

// NewFieldSet builds a set from fields.
func NewFieldSet(fields ...Field) FieldSet {
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether f is requested.
func (s FieldSet) Has(f Field) bool {
	if s == nil {
		return true
	}
	_, ok := s[f]
	return ok
}

// Fields fetched during a scan in fast mode.
var FastFields = NewFieldSet(
	FieldModel,
	FieldFirmware,
	FieldHostname,
	FieldHashrate,
	FieldExpectedHashrate,
	FieldHashboards,
	FieldWattage,
	FieldWattageLimit,
	FieldFaultLight,
	FieldPools,
)

// AllFields requests everything a driver can report.
var AllFields FieldSet

// Telemetry is a partially populated device fact sheet. Nil pointers and nil
// slices mean "not reported".
type Telemetry struct {
	Model            *string     `json:"model,omitempty"`
	Firmware         *string     `json:"fw_ver,omitempty"`
	Hostname         *string     `json:"hostname,omitempty"`
	Hashrate         *float64    `json:"hashrate,omitempty"`
	ExpectedHashrate *float64    `json:"expected_hashrate,omitempty"`
	Temperature      *float64    `json:"temperature_avg,omitempty"`
	Wattage          *int        `json:"wattage,omitempty"`
	WattageLimit     *int        `json:"wattage_limit,omitempty"`
	Hashboards       []Hashboard `json:"hashboards,omitempty"`
	ExpectedChips    *int        `json:"expected_chips,omitempty"`
	PoolGroups       []PoolGroup `json:"pool_groups,omitempty"`
	FaultLight       *bool       `json:"fault_light,omitempty"`
	Errors           []Error     `json:"errors,omitempty"`
}

// Hashboard is one compute board.
type Hashboard struct {
	Slot          int      `json:"slot"`
	Chips         *int     `json:"chips,omitempty"`
	ExpectedChips *int     `json:"expected_chips,omitempty"`
	Hashrate      *float64 `json:"hashrate,omitempty"`
	Temperature   *float64 `json:"temp,omitempty"`
	Missing       bool     `json:"missing,omitempty"`
}

type PoolGroup struct {
	Quota int    `json:"quota"`
	Pools []Pool `json:"pools"`
}

type Pool struct {
	URL  string `json:"url"`
	User string `json:"user"`
}

// Error is a device-reported fault.
type Error struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}
