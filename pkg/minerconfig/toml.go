package minerconfig

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

const bosminerFormatVersion = "2.0"

type bosminerDocument struct {
	Format       bosminerFormat        `toml:"format"`
	Groups       []bosminerGroup       `toml:"group"`
	TempControl  *bosminerTemp         `toml:"temp_control,omitempty"`
	FanControl   *bosminerFan          `toml:"fan_control,omitempty"`
	Autotuning   *bosminerAutotuning   `toml:"autotuning,omitempty"`
	PowerScaling *bosminerPowerScaling `toml:"power_scaling,omitempty"`
}

type bosminerFormat struct {
	Version   string `toml:"version"`
	Model     string `toml:"model,omitempty"`
	Generator string `toml:"generator"`
}

type bosminerGroup struct {
	Name  string         `toml:"name"`
	Quota int            `toml:"quota"`
	Pools []bosminerPool `toml:"pool"`
}

type bosminerPool struct {
	URL      string `toml:"url"`
	User     string `toml:"user"`
	Password string `toml:"password,omitempty"`
}

type bosminerTemp struct {
	Mode          string  `toml:"mode"`
	TargetTemp    float64 `toml:"target_temp"`
	HotTemp       float64 `toml:"hot_temp"`
	DangerousTemp float64 `toml:"dangerous_temp"`
}

type bosminerFan struct {
	Speed   int `toml:"speed"`
	MinFans int `toml:"min_fans"`
}

type bosminerAutotuning struct {
	Enabled       bool `toml:"enabled"`
	PSUPowerLimit int  `toml:"psu_power_limit,omitempty"`
}

type bosminerPowerScaling struct {
	Enabled          bool `toml:"enabled"`
	PowerStep        int  `toml:"power_step"`
	MinPSUPowerLimit int  `toml:"min_psu_power_limit"`
	ShutdownEnabled  bool `toml:"shutdown_enabled"`
	ShutdownDuration int  `toml:"shutdown_duration"`
}

// BOSminerTOML renders cfg as a bosminer.toml document for model.
func BOSminerTOML(cfg *Config, model string) ([]byte, error) {
	doc := bosminerDocument{
		Format: bosminerFormat{Version: bosminerFormatVersion, Model: model, Generator: "asicfleet"},
	}

	for _, g := range cfg.Pools.Groups {
		bg := bosminerGroup{Name: g.Name, Quota: g.Quota}
		for _, p := range g.Pools {
			bg.Pools = append(bg.Pools, bosminerPool(p))
		}
		doc.Groups = append(doc.Groups, bg)
	}

	if t := cfg.Temperature; t != nil {
		doc.TempControl = &bosminerTemp{Mode: "auto", TargetTemp: t.Target, HotTemp: t.Hot, DangerousTemp: t.Danger}
	}
	if f := cfg.FanMode; f != nil && f.Mode == "manual" {
		doc.FanControl = &bosminerFan{Speed: f.Speed, MinFans: f.MinimumFans}
		if doc.TempControl != nil {
			doc.TempControl.Mode = "manual"
		}
	}
	if m := cfg.MiningMode; m != nil {
		doc.Autotuning = &bosminerAutotuning{Enabled: m.Mode == "power_tuning", PSUPowerLimit: m.Power}
	}
	if ps := cfg.PowerScaling; ps != nil {
		bps := &bosminerPowerScaling{
			Enabled:          ps.Mode == "enabled",
			PowerStep:        ps.PowerStep,
			MinPSUPowerLimit: ps.MinimumPower,
		}
		if ps.ShutdownEnabled != nil {
			bps.ShutdownEnabled = ps.ShutdownEnabled.Mode == "enabled"
			bps.ShutdownDuration = ps.ShutdownEnabled.Duration
		}
		doc.PowerScaling = bps
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding bosminer.toml: %w", err)
	}
	return out, nil
}

// FromBOSminerTOML reads a bosminer.toml document back into a Config.
func FromBOSminerTOML(data []byte) (*Config, error) {
	var doc bosminerDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	cfg := &Config{}
	for _, g := range doc.Groups {
		pg := PoolGroup{Name: g.Name, Quota: g.Quota}
		for _, p := range g.Pools {
			pg.Pools = append(pg.Pools, Pool(p))
		}
		cfg.Pools.Groups = append(cfg.Pools.Groups, pg)
	}

	if t := doc.TempControl; t != nil {
		cfg.Temperature = &Temperature{Target: t.TargetTemp, Hot: t.HotTemp, Danger: t.DangerousTemp}
	}
	if f := doc.FanControl; f != nil {
		cfg.FanMode = &FanMode{Mode: "manual", Speed: f.Speed, MinimumFans: f.MinFans}
	}
	if a := doc.Autotuning; a != nil {
		mode := "normal"
		if a.Enabled {
			mode = "power_tuning"
		}
		cfg.MiningMode = &MiningMode{Mode: mode, Power: a.PSUPowerLimit}
	}
	if ps := doc.PowerScaling; ps != nil {
		mode, shutdown := "disabled", "disabled"
		if ps.Enabled {
			mode = "enabled"
		}
		if ps.ShutdownEnabled {
			shutdown = "enabled"
		}
		cfg.PowerScaling = &PowerScaling{
			Mode:            mode,
			PowerStep:       ps.PowerStep,
			MinimumPower:    ps.MinPSUPowerLimit,
			ShutdownEnabled: &Shutdown{Mode: shutdown, Duration: ps.ShutdownDuration},
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
