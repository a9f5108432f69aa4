package cmdutil

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/model"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"10.0.0.1", []string{"10.0.0.1"}},
		{" 10.0.0.1 , ,10.0.0.2,", []string{"10.0.0.1", "10.0.0.2"}},
	}
	for _, tt := range tests {
		got := ParseList(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseColumns(t *testing.T) {
	cols, err := ParseColumns("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != len(DefaultColumns) {
		t.Errorf("expected default columns, got %v", cols)
	}

	cols, err = ParseColumns("ip,model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cols, []fleet.Column{fleet.ColIP, fleet.ColModel}) {
		t.Errorf("got %v", cols)
	}

	if _, err := ParseColumns("ip,bogus"); err == nil {
		t.Error("expected error for unknown column")
	}
}

func TestParseFamily(t *testing.T) {
	f, err := parseFamily(" WhatsMiner ")
	if err != nil || f != "whatsminer" {
		t.Errorf("parseFamily = %q, %v", f, err)
	}
	if _, err := parseFamily("toaster"); err == nil {
		t.Error("expected error for unknown family")
	}
}

func TestPromptPassword_NotTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out bytes.Buffer
	pw, err := PromptPassword(f, &out, "pw: ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pw != "s3cret" {
		t.Errorf("password = %q", pw)
	}
	if out.String() != "pw: " {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestPrintOperation(t *testing.T) {
	start := time.Now()
	op := &model.Operation{Kind: model.OpReboot, Targets: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, StartedAt: start}
	op.Add(model.OperationResult{IP: "10.0.0.1", OK: true, Output: "Reboot command succeeded."})
	op.Add(model.OperationResult{IP: "10.0.0.2", Output: "Reboot command failed.", Error: "device unreachable"})
	op.Add(model.OperationResult{IP: "10.0.0.3", Skipped: true})
	op.CompletedAt = start.Add(1500 * time.Millisecond)

	var buf bytes.Buffer
	PrintOperation(&buf, op)
	out := buf.String()

	for _, want := range []string{
		"10.0.0.1  ok",
		"failed   Reboot command failed. device unreachable",
		"skipped",
		"Reboot: 1 succeeded, 1 failed, 1 skipped in 1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintFleet(t *testing.T) {
	state := fleet.New()
	state.Upsert("10.0.0.1", model.Record{IP: "10.0.0.1"})

	var buf bytes.Buffer
	PrintFleet(&buf, state, []fleet.Column{fleet.ColIP})
	out := buf.String()
	if !strings.Contains(out, "10.0.0.1") {
		t.Errorf("table missing device:\n%s", out)
	}
	if !strings.Contains(out, fleet.FormatCount(state.Rollups())) {
		t.Errorf("rollups missing:\n%s", out)
	}
}
