package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind names a bulk operation.
type OperationKind string

const (
	OpRefresh        OperationKind = "refresh"
	OpReboot         OperationKind = "reboot"
	OpRestartBackend OperationKind = "restart-backend"
	OpLight          OperationKind = "light"
	OpUnlock         OperationKind = "unlock"
	OpCommand        OperationKind = "command"
	OpConfig         OperationKind = "config"
)

// OperationKinds lists every kind in display order.
var OperationKinds = []OperationKind{OpRefresh, OpReboot, OpRestartBackend, OpLight, OpUnlock, OpCommand, OpConfig}

// Label is the name used in per-device outcome messages.
func (k OperationKind) Label() string {
	switch k {
	case OpReboot:
		return "Reboot"
	case OpRestartBackend:
		return "Restart Backend"
	case OpLight:
		return "Fault Light"
	case OpUnlock:
		return "Unlock"
	case OpConfig:
		return "Config"
	case OpCommand:
		return "Command"
	default:
		return "Refresh"
	}
}

// Succeeded and Failed render the per-device outcome written to a record.
func (k OperationKind) Succeeded() string { return k.Label() + " command succeeded." }
func (k OperationKind) Failed() string    { return k.Label() + " command failed." }

// Operation summarises one bulk operation.
type Operation struct {
	ID          string            `json:"id"`
	Kind        OperationKind     `json:"kind"`
	Payload     string            `json:"payload,omitempty"`
	Targets     []string          `json:"targets"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Results     []OperationResult `json:"results,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// OperationResult is the outcome for one device.
type OperationResult struct {
	IP      string `json:"ip"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Add records one device outcome.
func (o *Operation) Add(res OperationResult) {
	switch {
	case res.Skipped:
		o.Skipped++
	case res.OK:
		o.Succeeded++
	default:
		o.Failed++
	}
	o.Results = append(o.Results, res)
}

// Summary renders the counts followed by one line per device.
func (o *Operation) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d failed", o.Kind.Label(), o.Succeeded, o.Failed)
	if o.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", o.Skipped)
	}
	fmt.Fprintf(&b, " (%d targets)\n", len(o.Targets))
	for _, r := range o.Results {
		line := r.Output
		if r.Error != "" {
			line = strings.TrimSpace(line + " " + r.Error)
		}
		fmt.Fprintf(&b, "%s: %s\n", r.IP, line)
	}
	return b.String()
}
