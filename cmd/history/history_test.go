package history

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/model"
)

func TestPrintScans(t *testing.T) {
	var buf bytes.Buffer
	printScans(&buf, nil)
	if !strings.Contains(buf.String(), "No scans") {
		t.Errorf("expected empty message, got %q", buf.String())
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(2 * time.Second)
	buf.Reset()
	printScans(&buf, []model.Scan{
		{ID: "s1", Network: "10.0.0.0/24", Status: model.ScanCompleted, TotalHosts: 254, ProbedHosts: 254, FoundHosts: 3, StartedAt: start, CompletedAt: &end},
		{ID: "s2", Network: "10.0.1.0/24", Status: model.ScanRunning, TotalHosts: 254, ProbedHosts: 10, StartedAt: start},
	})
	out := buf.String()
	for _, want := range []string{"s1", "254/254", "2s", "10/254", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintOperations(t *testing.T) {
	var buf bytes.Buffer
	printOperations(&buf, nil)
	if !strings.Contains(buf.String(), "No operations") {
		t.Errorf("expected empty message, got %q", buf.String())
	}

	start := time.Now()
	buf.Reset()
	printOperations(&buf, []model.Operation{{
		ID: "op1", Kind: model.OpReboot, Targets: []string{"a", "b"},
		Succeeded: 1, Failed: 1, StartedAt: start, CompletedAt: start.Add(250 * time.Millisecond),
	}})
	out := buf.String()
	for _, want := range []string{"op1", "reboot", "250ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDuration(t *testing.T) {
	start := time.Now()
	if got := duration(start, nil); got != "-" {
		t.Errorf("nil end = %q", got)
	}
	var zero time.Time
	if got := duration(start, &zero); got != "-" {
		t.Errorf("zero end = %q", got)
	}
	end := start.Add(1500 * time.Millisecond)
	if got := duration(start, &end); got != "1.5s" {
		t.Errorf("duration = %q", got)
	}
}
