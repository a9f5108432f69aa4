package model

import "time"

// Scan status values.
const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanCancelled = "cancelled"
	ScanFailed    = "failed"
)

// Scan is one discovery run over a network.
type Scan struct {
	ID           string     `json:"id"`
	Network      string     `json:"network"`
	Status       string     `json:"status"`
	TotalHosts   int        `json:"total_hosts"`
	ProbedHosts  int        `json:"probed_hosts"`
	FoundHosts   int        `json:"found_hosts"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Progress returns the share of probed hosts in percent.
func (s *Scan) Progress() float64 {
	if s.TotalHosts == 0 {
		return 0
	}
	return float64(s.ProbedHosts) / float64(s.TotalHosts) * 100
}
