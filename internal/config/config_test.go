package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(filepath.Join(t.TempDir(), "missing.env"), nil)

	if cfg.PingRetries != 1 || cfg.PingTimeout != 3*time.Second {
		t.Errorf("ping = %d/%v, want 1/3s", cfg.PingRetries, cfg.PingTimeout)
	}
	if cfg.ScanThreads != 300 || cfg.RebootThreads != 300 || cfg.ConfigThreads != 300 || cfg.CommandThreads != 300 {
		t.Errorf("thread caps = %+v, want 300 each", cfg)
	}
	if cfg.ScanRate != 0 || cfg.FastMode || cfg.Debug {
		t.Errorf("scan rate/fast/debug = %v/%v/%v", cfg.ScanRate, cfg.FastMode, cfg.Debug)
	}
	if cfg.SettleDelay != 3*time.Second {
		t.Errorf("SettleDelay = %v, want 3s", cfg.SettleDelay)
	}
	if cfg.DataDir != "./data" || cfg.ListenAddr != ":8080" || cfg.DefaultNetwork != "192.168.1.0/24" {
		t.Errorf("paths = %s %s %s", cfg.DataDir, cfg.ListenAddr, cfg.DefaultNetwork)
	}
	if cfg.Passwords[miner.FamilyGoldshell] != "123456789" || cfg.Passwords[miner.FamilyAntminer] != "root" {
		t.Errorf("Passwords = %v", cfg.Passwords)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile = %q, want empty", cfg.ConfigFile)
	}
	if cfg.Fields() != nil {
		t.Error("Fields() should request everything outside fast mode")
	}
}

func TestLoad_Priority(t *testing.T) {
	t.Setenv("ASICFLEET_SCAN_THREADS", "50")
	t.Setenv("ASICFLEET_REBOOT_THREADS", "40")
	t.Setenv("ASICFLEET_CONFIG_THREADS", "30")
	t.Setenv("ASICFLEET_ANTMINER_PASSWORD", "fromenv")

	envFile := writeEnvFile(t, `# fleet settings
ASICFLEET_REBOOT_THREADS=20
export ASICFLEET_CONFIG_THREADS="10"
ASICFLEET_ANTMINER_PASSWORD='fromfile'
not a setting
`)

	cfg := load(envFile, map[string]string{"config-threads": "5"})

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"env over default", cfg.ScanThreads, 50},
		{".env over env", cfg.RebootThreads, 20},
		{"flag over .env", cfg.ConfigThreads, 5},
		{"default", cfg.CommandThreads, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}

	if cfg.Passwords[miner.FamilyAntminer] != "fromfile" {
		t.Errorf("antminer password = %q, want fromfile", cfg.Passwords[miner.FamilyAntminer])
	}
	if cfg.ConfigFile != envFile {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, envFile)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		opts  map[string]string
		check func(*Config) bool
	}{
		{"non-numeric threads", map[string]string{"scan-threads": "lots"}, func(c *Config) bool { return c.ScanThreads == 300 }},
		{"zero threads", map[string]string{"reboot-threads": "0"}, func(c *Config) bool { return c.RebootThreads == 1 }},
		{"negative threads", map[string]string{"command-threads": "-4"}, func(c *Config) bool { return c.CommandThreads == 1 }},
		{"bad duration", map[string]string{"ping-timeout": "soon"}, func(c *Config) bool { return c.PingTimeout == 3*time.Second }},
		{"bare seconds", map[string]string{"settle-delay": "1.5"}, func(c *Config) bool { return c.SettleDelay == 1500*time.Millisecond }},
		{"bad bool", map[string]string{"fast-mode": "maybe"}, func(c *Config) bool { return !c.FastMode }},
		{"negative rate", map[string]string{"scan-rate": "-2"}, func(c *Config) bool { return c.ScanRate == 0 }},
		{"fast mode", map[string]string{"fast-mode": "true"}, func(c *Config) bool { return c.Fields() != nil }},
	}

	missing := filepath.Join(t.TempDir(), "missing.env")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cfg := load(missing, tt.opts); !tt.check(cfg) {
				t.Errorf("load(%v) = %+v", tt.opts, cfg)
			}
		})
	}
}

func TestConfig_LogLevel(t *testing.T) {
	cfg := &Config{}
	if got := cfg.LogLevel("warn"); got != "warn" {
		t.Errorf("LogLevel() = %q, want warn", got)
	}
	cfg.Debug = true
	if got := cfg.LogLevel("warn"); got != "debug" {
		t.Errorf("LogLevel() = %q, want debug", got)
	}
}
