package model

import (
	"strings"
	"testing"
)

func TestOperation_Add(t *testing.T) {
	op := &Operation{Kind: OpUnlock, Targets: []string{"a", "b", "c"}}
	op.Add(OperationResult{IP: "a", OK: true, Output: OpUnlock.Succeeded()})
	op.Add(OperationResult{IP: "b", Error: "timeout", Output: OpUnlock.Failed()})
	op.Add(OperationResult{IP: "c", Skipped: true})

	if op.Succeeded != 1 || op.Failed != 1 || op.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", op.Succeeded, op.Failed, op.Skipped)
	}
	if len(op.Results) != 3 {
		t.Errorf("Results = %d, want 3", len(op.Results))
	}
}

func TestOperation_Summary(t *testing.T) {
	op := &Operation{Kind: OpReboot, Targets: []string{"10.0.0.1", "10.0.0.2"}}
	op.Add(OperationResult{IP: "10.0.0.1", OK: true, Output: OpReboot.Succeeded()})
	op.Add(OperationResult{IP: "10.0.0.2", Error: "unreachable", Output: OpReboot.Failed()})

	got := op.Summary()
	for _, want := range []string{
		"Reboot: 1 succeeded, 1 failed (2 targets)",
		"10.0.0.1: Reboot command succeeded.",
		"10.0.0.2: Reboot command failed. unreachable",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "skipped") {
		t.Errorf("Summary() = %q, should not mention skipped", got)
	}
}

func TestOperationKind_Outcomes(t *testing.T) {
	tests := []struct {
		kind OperationKind
		ok   string
		fail string
	}{
		{OpLight, "Fault Light command succeeded.", "Fault Light command failed."},
		{OpRestartBackend, "Restart Backend command succeeded.", "Restart Backend command failed."},
		{OpConfig, "Config command succeeded.", "Config command failed."},
		{OpRefresh, "Refresh command succeeded.", "Refresh command failed."},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Succeeded(); got != tt.ok {
				t.Errorf("Succeeded() = %q, want %q", got, tt.ok)
			}
			if got := tt.kind.Failed(); got != tt.fail {
				t.Errorf("Failed() = %q, want %q", got, tt.fail)
			}
		})
	}
}
