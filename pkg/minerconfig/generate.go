package minerconfig

import "fmt"

const (
	v2PrimaryURL   = "stratum2+tcp://v2.us-east.stratum.braiins.com/u95GEReVMjK6k5YqiSFNqqTnKU4ypU2Wm8awa6tmbmDmk1bWt"
	v2SecondaryURL = "stratum2+tcp://v2.stratum.braiins.com/u95GEReVMjK6k5YqiSFNqqTnKU4ypU2Wm8awa6tmbmDmk1bWt"
	v1PrimaryURL   = "stratum+tcp://ca.stratum.braiins.com:3333"
	v1SecondaryURL = "stratum+tcp://us-east.stratum.braiins.com:3333"
	fallbackURL    = "stratum+tcp://stratum.braiins.com:3333"

	defaultPoolPassword = "123"
)

// GenerateOptions are the inputs of the config generator. Advanced settings
// are ignored unless Advanced is set.
type GenerateOptions struct {
	Username   string
	WorkerName string
	AllowV2    bool

	Advanced      bool
	PowerLimit    int
	ManualFan     bool
	FanSpeed      int
	MinimumFans   int
	TargetTemp    int
	HotTemp       int
	DangerTemp    int
	DPS           bool
	DPSPowerStep  int
	DPSMinPower   int
	DPSShutdown   bool
	DPSShutdownHr int
}

// DefaultGenerateOptions mirrors the generator form's initial values.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		AllowV2:       true,
		PowerLimit:    900,
		FanSpeed:      100,
		MinimumFans:   1,
		TargetTemp:    80,
		HotTemp:       90,
		DangerTemp:    100,
		DPSPowerStep:  100,
		DPSMinPower:   800,
		DPSShutdownHr: 3,
	}
}

// Generate builds a three-pool config for a pool account.
func Generate(opts GenerateOptions) (*Config, error) {
	if opts.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrParse)
	}

	user := opts.Username
	if opts.WorkerName != "" {
		user = opts.Username + "." + opts.WorkerName
	}

	urls := []string{v1PrimaryURL, v1SecondaryURL, fallbackURL}
	if opts.AllowV2 {
		urls = []string{v2PrimaryURL, v2SecondaryURL, fallbackURL}
	}

	pools := make([]Pool, 0, len(urls))
	for _, u := range urls {
		pools = append(pools, Pool{URL: u, User: user, Password: defaultPoolPassword})
	}

	cfg := &Config{
		Pools: Pools{Groups: []PoolGroup{{Name: "group", Quota: 1, Pools: pools}}},
		Temperature: &Temperature{
			Target: 80,
			Hot:    90,
			Danger: 120,
		},
		MiningMode: &MiningMode{Mode: "power_tuning", Power: 1000},
	}

	if !opts.Advanced {
		return cfg, nil
	}

	cfg.Temperature = &Temperature{
		Target: float64(opts.TargetTemp),
		Hot:    float64(opts.HotTemp),
		Danger: float64(opts.DangerTemp),
	}
	cfg.MiningMode.Power = opts.PowerLimit

	if opts.ManualFan {
		cfg.FanMode = &FanMode{Mode: "manual", MinimumFans: opts.MinimumFans, Speed: opts.FanSpeed}
	}

	if opts.DPS {
		shutdown := &Shutdown{Mode: "disabled", Duration: opts.DPSShutdownHr}
		if opts.DPSShutdown {
			shutdown.Mode = "enabled"
		}
		cfg.PowerScaling = &PowerScaling{
			Mode:            "enabled",
			PowerStep:       opts.DPSPowerStep,
			MinimumPower:    opts.DPSMinPower,
			ShutdownEnabled: shutdown,
		}
	}

	return cfg, nil
}
