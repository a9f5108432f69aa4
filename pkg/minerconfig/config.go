// Package minerconfig holds the firmware-agnostic miner configuration
// document pushed to and imported from devices.
package minerconfig

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrParse is returned when a configuration document cannot be used.
var ErrParse = errors.New("invalid miner config")

// Config is the document accepted by the config push operation.
type Config struct {
	Pools        Pools         `yaml:"pools" json:"pools"`
	Temperature  *Temperature  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MiningMode   *MiningMode   `yaml:"mining_mode,omitempty" json:"mining_mode,omitempty"`
	FanMode      *FanMode      `yaml:"fan_mode,omitempty" json:"fan_mode,omitempty"`
	PowerScaling *PowerScaling `yaml:"power_scaling,omitempty" json:"power_scaling,omitempty"`
}

type Pools struct {
	Groups []PoolGroup `yaml:"groups" json:"groups"`
}

// PoolGroup is a set of failover pools sharing one quota.
type PoolGroup struct {
	Name  string `yaml:"name" json:"name"`
	Quota int    `yaml:"quota" json:"quota"`
	Pools []Pool `yaml:"pool" json:"pool"`
}

type Pool struct {
	URL      string `yaml:"url" json:"url"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
}

type Temperature struct {
	Target float64 `yaml:"target" json:"target"`
	Hot    float64 `yaml:"hot" json:"hot"`
	Danger float64 `yaml:"danger" json:"danger"`
}

type MiningMode struct {
	Mode  string `yaml:"mode" json:"mode"`
	Power int    `yaml:"power,omitempty" json:"power,omitempty"`
}

type FanMode struct {
	Mode        string `yaml:"mode" json:"mode"`
	MinimumFans int    `yaml:"minimum_fans,omitempty" json:"minimum_fans,omitempty"`
	Speed       int    `yaml:"speed,omitempty" json:"speed,omitempty"`
}

type PowerScaling struct {
	Mode            string    `yaml:"mode" json:"mode"`
	PowerStep       int       `yaml:"power_step,omitempty" json:"power_step,omitempty"`
	MinimumPower    int       `yaml:"minimum_power,omitempty" json:"minimum_power,omitempty"`
	ShutdownEnabled *Shutdown `yaml:"shutdown_enabled,omitempty" json:"shutdown_enabled,omitempty"`
}

type Shutdown struct {
	Mode     string `yaml:"mode" json:"mode"`
	Duration int    `yaml:"duration" json:"duration"`
}

// Parse decodes a YAML configuration document. Unknown keys, an empty
// document, or a document without any pool group are rejected with ErrParse.
func Parse(text string) (*Config, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}

	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural requirements shared by every firmware.
func (c *Config) Validate() error {
	if len(c.Pools.Groups) == 0 {
		return fmt.Errorf("%w: no pool groups", ErrParse)
	}
	for i := range c.Pools.Groups {
		g := &c.Pools.Groups[i]
		if len(g.Pools) == 0 {
			return fmt.Errorf("%w: pool group %d has no pools", ErrParse, i)
		}
		for j, p := range g.Pools {
			if p.URL == "" {
				return fmt.Errorf("%w: pool group %d pool %d has no url", ErrParse, i, j)
			}
		}
		if g.Quota <= 0 {
			g.Quota = 1
		}
		if g.Name == "" {
			g.Name = "group"
		}
	}
	return nil
}

// Marshal renders the document as YAML, keeping field order stable.
func Marshal(cfg *Config) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return buf.String(), nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Pools.Groups = make([]PoolGroup, len(c.Pools.Groups))
	for i, g := range c.Pools.Groups {
		g.Pools = append([]Pool(nil), g.Pools...)
		out.Pools.Groups[i] = g
	}
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	if c.MiningMode != nil {
		m := *c.MiningMode
		out.MiningMode = &m
	}
	if c.FanMode != nil {
		f := *c.FanMode
		out.FanMode = &f
	}
	if c.PowerScaling != nil {
		p := *c.PowerScaling
		if p.ShutdownEnabled != nil {
			s := *p.ShutdownEnabled
			p.ShutdownEnabled = &s
		}
		out.PowerScaling = &p
	}
	return &out
}

// WithUserSuffix returns a copy with suffix appended to every pool user.
func (c *Config) WithUserSuffix(suffix string) *Config {
	out := c.Clone()
	if suffix == "" {
		return out
	}
	for i := range out.Pools.Groups {
		for j := range out.Pools.Groups[i].Pools {
			out.Pools.Groups[i].Pools[j].User += suffix
		}
	}
	return out
}

// IPSuffix returns the per-device worker suffix for ip: "x" followed by the
// last dotted octet. Addresses without a dot yield "".
func IPSuffix(ip string) string {
	i := strings.LastIndexByte(ip, '.')
	if i < 0 || i == len(ip)-1 {
		return ""
	}
	return "x" + ip[i+1:]
}
