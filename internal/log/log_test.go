package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	logtesting "github.com/paularlott/logger/testing"
)

func TestConfigureWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	ConfigureWriter(&buf, "debug", "json")
	defer Configure("info", "console")

	Debug("Device resolved", "ip", "10.0.0.2", "family", "antminer")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "Device resolved" {
		t.Errorf("message = %v, want %q", entry["message"], "Device resolved")
	}
	if entry["ip"] != "10.0.0.2" {
		t.Errorf("ip = %v, want 10.0.0.2", entry["ip"])
	}
	if entry["level"] != "debug" {
		t.Errorf("level = %v, want debug", entry["level"])
	}
}

func TestConfigureWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	ConfigureWriter(&buf, "warn", "json")
	defer Configure("info", "console")

	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestSetDebug_KeepsWriter(t *testing.T) {
	var buf bytes.Buffer
	ConfigureWriter(&buf, "info", "json")
	defer Configure("info", "console")

	Debug("before")
	SetDebug(true)
	Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("output = %q, want only the line logged after SetDebug", out)
	}
}

func TestUse_CapturesCalls(t *testing.T) {
	mock := logtesting.New()
	Use(mock)
	defer Configure("info", "console")

	Warn("Telemetry fetch failed", "ip", "10.0.0.3")

	if len(mock.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(mock.Entries))
	}
	e := mock.Entries[0]
	if e.Level != "warn" || e.Message != "Telemetry fetch failed" || e.KeysAndValues[1] != "10.0.0.3" {
		t.Errorf("entry = %+v", e)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "info"},
		{"DEBUG", "debug"},
		{" trace ", "trace"},
		{"warning", "warn"},
		{"bogus", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
