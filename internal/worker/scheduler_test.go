package worker

import (
	"context"
	"errors"
	"testing"
)

func TestScheduler_RegisterTask(t *testing.T) {
	s := NewScheduler()

	if err := s.RegisterTask("refresh", "Fleet refresh", "@every 5m", func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("RegisterTask() error = %v", err)
	}
	if err := s.RegisterTask("refresh", "dup", "@every 5m", nil); err == nil {
		t.Error("RegisterTask() duplicate id should fail")
	}
	if err := s.RegisterTask("bad", "bad", "not a schedule", nil); err == nil {
		t.Error("RegisterTask() invalid spec should fail")
	}
	if got := len(s.Tasks()); got != 1 {
		t.Errorf("Tasks() = %d, want 1", got)
	}
}

func TestScheduler_RunNowStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, TaskCompleted},
		{"busy", ErrBusy, TaskSkipped},
		{"failure", errors.New("boom"), TaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler()
			err := s.RegisterTask("t", "t", "@hourly", func(context.Context, string) error { return tt.err })
			if err != nil {
				t.Fatalf("RegisterTask() error = %v", err)
			}
			if err := s.RunNow("t"); err != nil {
				t.Fatalf("RunNow() error = %v", err)
			}
			tasks := s.Tasks()
			if tasks[0].Status != tt.want {
				t.Errorf("Status = %s, want %s", tasks[0].Status, tt.want)
			}
			if tasks[0].LastRun == nil {
				t.Error("LastRun not set")
			}
		})
	}

	if err := NewScheduler().RunNow("missing"); err == nil {
		t.Error("RunNow() on unknown task should fail")
	}
}
