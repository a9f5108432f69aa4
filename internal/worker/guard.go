package worker

import (
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when an operation is already running against the fleet.
var ErrBusy = errors.New("another fleet operation is running")

// Phase is the lifecycle state of the guarded operation slot.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseDraining Phase = "draining"
)

// Status describes the current occupant of the guard.
type Status struct {
	Phase Phase     `json:"phase"`
	Label string    `json:"label,omitempty"`
	Since time.Time `json:"since"`
}

// Guard lets one bulk operation run at a time. Every operation, discovery
// included, wraps its work in Begin and End.
type Guard struct {
	mu       sync.Mutex
	status   Status
	onChange func(Status)
}

// NewGuard creates an idle guard. onChange, if set, is called after each
// transition, outside the lock.
func NewGuard(onChange func(Status)) *Guard {
	return &Guard{
		status:   Status{Phase: PhaseIdle, Since: time.Now()},
		onChange: onChange,
	}
}

// Ticket is held by the running operation.
type Ticket struct {
	g    *Guard
	once sync.Once
}

// Begin claims the guard for label or returns ErrBusy.
func (g *Guard) Begin(label string) (*Ticket, error) {
	g.mu.Lock()
	if g.status.Phase != PhaseIdle {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	st := g.set(PhaseRunning, label)
	g.mu.Unlock()

	g.notify(st)
	return &Ticket{g: g}, nil
}

// Status returns the current state.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Busy reports whether an operation holds the guard.
func (g *Guard) Busy() bool {
	return g.Status().Phase != PhaseIdle
}

// Draining marks the operation as waiting for stragglers.
func (t *Ticket) Draining() {
	g := t.g
	g.mu.Lock()
	if g.status.Phase != PhaseRunning {
		g.mu.Unlock()
		return
	}
	st := g.set(PhaseDraining, g.status.Label)
	g.mu.Unlock()

	g.notify(st)
}

// End releases the guard. Calling it more than once is harmless.
func (t *Ticket) End() {
	t.once.Do(func() {
		g := t.g
		g.mu.Lock()
		st := g.set(PhaseIdle, "")
		g.mu.Unlock()

		g.notify(st)
	})
}

func (g *Guard) set(phase Phase, label string) Status {
	g.status = Status{Phase: phase, Label: label, Since: time.Now()}
	return g.status
}

func (g *Guard) notify(st Status) {
	if g.onChange != nil {
		g.onChange(st)
	}
}
