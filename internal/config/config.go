package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/paularlott/cli"
)

// Config holds the application configuration
type Config struct {
	PingRetries     int
	PingTimeout     time.Duration
	ScanThreads     int
	ScanRate        float64 // probes per second, 0 = unlimited
	GetMinerRetries int
	GetDataRetries  int
	RebootThreads   int
	ConfigThreads   int
	CommandThreads  int
	Passwords       map[miner.Family]string
	FastMode        bool
	Debug           bool
	SettleDelay     time.Duration

	DataDir         string
	ListenAddr      string
	APIAuthToken    string
	MCPAuthToken    string
	DefaultNetwork  string
	RefreshSchedule string // cron spec, empty disables the scheduler

	ConfigFile string // Path to .env file (if loaded)
}

// option describes one setting: its key (also the CLI flag name), its
// environment variable and its default.
type option struct {
	key   string
	env   string
	def   string
	usage string
}

var options = []option{
	{"ping-retries", "ASICFLEET_PING_RETRIES", "1", "Probe attempts per address"},
	{"ping-timeout", "ASICFLEET_PING_TIMEOUT", "3s", "Timeout for a single device call"},
	{"scan-threads", "ASICFLEET_SCAN_THREADS", "300", "Concurrent probes during a scan"},
	{"scan-rate", "ASICFLEET_SCAN_RATE", "0", "Probes started per second (0 = unlimited)"},
	{"get-miner-retries", "ASICFLEET_GET_MINER_RETRIES", "1", "Resolve attempts per device"},
	{"get-data-retries", "ASICFLEET_GET_DATA_RETRIES", "1", "Telemetry attempts per device"},
	{"reboot-threads", "ASICFLEET_REBOOT_THREADS", "300", "Concurrent reboots"},
	{"config-threads", "ASICFLEET_CONFIG_THREADS", "300", "Concurrent config pushes"},
	{"command-threads", "ASICFLEET_COMMAND_THREADS", "300", "Concurrent commands"},
	{"fast-mode", "ASICFLEET_FAST_MODE", "false", "Fetch only the core telemetry fields"},
	{"debug", "ASICFLEET_DEBUG", "false", "Enable debug logging"},
	{"settle-delay", "ASICFLEET_SETTLE_DELAY", "3s", "Wait after a config push before refreshing"},
	{"data-dir", "ASICFLEET_DATA_DIR", "./data", "Directory for the history database"},
	{"listen-addr", "ASICFLEET_LISTEN_ADDR", ":8080", "Server listen address"},
	{"api-token", "ASICFLEET_API_TOKEN", "", "API bearer token"},
	{"mcp-token", "ASICFLEET_MCP_TOKEN", "", "MCP bearer token"},
	{"network", "ASICFLEET_NETWORK", "192.168.1.0/24", "Default network to scan"},
	{"refresh-schedule", "ASICFLEET_REFRESH_SCHEDULE", "", "Cron schedule for fleet refresh (empty = off)"},
}

// defaultPasswords per family, overridable with ASICFLEET_<FAMILY>_PASSWORD.
var defaultPasswords = map[miner.Family]string{
	miner.FamilyWhatsminer:  "admin",
	miner.FamilyInnosilicon: "admin",
	miner.FamilyAntminer:    "root",
	miner.FamilyBOSminer:    "root",
	miner.FamilyVNish:       "admin",
	miner.FamilyGoldshell:   "123456789",
	miner.FamilyBitaxe:      "",
}

func passwordEnv(f miner.Family) string {
	return "ASICFLEET_" + strings.ToUpper(string(f)) + "_PASSWORD"
}

// GetFlags returns the global CLI flags for every option. Flags default to
// empty so that an unset flag falls through to the .env file and environment.
func GetFlags() []cli.Flag {
	flags := make([]cli.Flag, 0, len(options))
	for _, o := range options {
		usage := o.usage
		if o.def != "" {
			usage = fmt.Sprintf("%s (default %s)", o.usage, o.def)
		}
		flags = append(flags, &cli.StringFlag{
			Name:   o.key,
			Usage:  usage,
			Global: true,
		})
	}
	return flags
}

// FromCommand collects the flags set on cmd.
func FromCommand(cmd *cli.Command) map[string]string {
	opts := make(map[string]string)
	for _, o := range options {
		if v := cmd.GetString(o.key); v != "" {
			opts[o.key] = v
		}
	}
	return opts
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Command-line parameters (passed as opts, keyed by flag name)
// 2. .env file (if exists)
// 3. Environment variables
// 4. Default values
func Load(opts map[string]string) *Config {
	return load(".env", opts)
}

func load(envFile string, opts map[string]string) *Config {
	fileValues := map[string]string{}
	configFile := ""
	if _, err := os.Stat(envFile); err == nil {
		values, err := readEnvFile(envFile)
		if err != nil {
			log.Warn("Failed to load .env file", "file", envFile, "error", err)
		} else {
			fileValues = values
			configFile = envFile
		}
	}

	raw := make(map[string]string, len(options))
	for _, o := range options {
		raw[o.key] = coalesce(opts[o.key], fileValues[o.env], os.Getenv(o.env), o.def)
	}

	cfg := &Config{
		PingRetries:     atLeastOne(parseInt(raw, "ping-retries")),
		PingTimeout:     parseDuration(raw, "ping-timeout"),
		ScanThreads:     atLeastOne(parseInt(raw, "scan-threads")),
		ScanRate:        parseFloat(raw, "scan-rate"),
		GetMinerRetries: atLeastOne(parseInt(raw, "get-miner-retries")),
		GetDataRetries:  atLeastOne(parseInt(raw, "get-data-retries")),
		RebootThreads:   atLeastOne(parseInt(raw, "reboot-threads")),
		ConfigThreads:   atLeastOne(parseInt(raw, "config-threads")),
		CommandThreads:  atLeastOne(parseInt(raw, "command-threads")),
		FastMode:        parseBool(raw, "fast-mode"),
		Debug:           parseBool(raw, "debug"),
		SettleDelay:     parseDuration(raw, "settle-delay"),
		DataDir:         raw["data-dir"],
		ListenAddr:      raw["listen-addr"],
		APIAuthToken:    raw["api-token"],
		MCPAuthToken:    raw["mcp-token"],
		DefaultNetwork:  raw["network"],
		RefreshSchedule: raw["refresh-schedule"],
		ConfigFile:      configFile,
		Passwords:       make(map[miner.Family]string, len(defaultPasswords)),
	}

	for family, def := range defaultPasswords {
		key := passwordEnv(family)
		cfg.Passwords[family] = coalesce(fileValues[key], os.Getenv(key), def)
	}

	return cfg
}

// readEnvFile reads KEY=VALUE pairs from a .env file
func readEnvFile(filename string) (map[string]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		values[key] = value
	}

	return values, scanner.Err()
}

// defaultFor returns the compiled-in default for key.
func defaultFor(key string) string {
	for _, o := range options {
		if o.key == key {
			return o.def
		}
	}
	return ""
}

func parseInt(raw map[string]string, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw[key]))
	if err != nil {
		log.Warn("Invalid integer setting, using default", "setting", key, "value", raw[key])
		v, _ = strconv.Atoi(defaultFor(key))
	}
	return v
}

func parseFloat(raw map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw[key]), 64)
	if err != nil || v < 0 {
		log.Warn("Invalid numeric setting, using default", "setting", key, "value", raw[key])
		v, _ = strconv.ParseFloat(defaultFor(key), 64)
	}
	return v
}

func parseBool(raw map[string]string, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw[key]))
	if err != nil {
		log.Warn("Invalid boolean setting, using default", "setting", key, "value", raw[key])
		v, _ = strconv.ParseBool(defaultFor(key))
	}
	return v
}

// parseDuration accepts Go durations ("3s") and bare seconds ("3").
func parseDuration(raw map[string]string, key string) time.Duration {
	s := strings.TrimSpace(raw[key])
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		log.Warn("Invalid duration setting, using default", "setting", key, "value", raw[key])
		d, _ = time.ParseDuration(defaultFor(key))
	}
	return d
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Fields returns the telemetry fields to request, nil meaning all.
func (c *Config) Fields() miner.FieldSet {
	if c.FastMode {
		return miner.FastFields
	}
	return nil
}

// LogLevel returns "debug" when Debug is set, otherwise fallback.
func (c *Config) LogLevel(fallback string) string {
	if c.Debug {
		return "debug"
	}
	return fallback
}

// IsMCPEnabled checks if MCP authentication is configured
func (c *Config) IsMCPEnabled() bool {
	return c.MCPAuthToken != ""
}

// IsAPIAuthEnabled checks if API authentication is configured
func (c *Config) IsAPIAuthEnabled() bool {
	return c.APIAuthToken != ""
}

// String returns a string representation of the config source
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf(".env file (%s)", c.ConfigFile)
	}
	return "environment variables"
}

// coalesce returns the first non-empty string value
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
