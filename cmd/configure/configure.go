// Package configure holds the miner configuration commands.
package configure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
	"github.com/paularlott/cli"
)

// Commands returns the config commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		pushCommand(),
		importCommand(),
		generateCommand(),
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:        "push",
		Usage:       "Push a pool configuration to devices",
		Description: "Validate a YAML pool configuration and write it to every target device",
		Flags: []cli.Flag{
			cmdutil.IPsFlag(),
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Config file to push (- for stdin)", Required: true},
			&cli.BoolFlag{Name: "append-ip", Usage: "Suffix pool users with each device's last IP octet"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			text, err := readInput(cmd.GetString("file"))
			if err != nil {
				return err
			}
			// Reject a broken document before any device is contacted.
			if _, err := minerconfig.Parse(text); err != nil {
				return err
			}

			a, err := cmdutil.Open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ips := cmdutil.ParseList(cmd.GetString("ips"))
			if len(ips) == 0 && a.Fleet.Len() == 0 {
				return errors.New("no devices known; run a scan first or pass --ips")
			}

			ctx, stop := cmdutil.SignalContext(ctx)
			defer stop()

			op, err := a.Dispatcher.PushConfig(ctx, ips, text, cmd.GetBool("append-ip"))
			if err != nil {
				return err
			}
			cmdutil.PrintOperation(os.Stdout, op)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:        "import",
		Usage:       "Read the pool configuration of a device",
		Description: "Fetch the configuration of one device and print it as YAML",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "ip", Usage: "Device IP", Required: true},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the config to a file instead of stdout"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.Dispatcher.ImportConfig(ctx, cmd.GetStringArg("ip"))
			if err != nil {
				return err
			}
			return writeOutput(cmd.GetString("output"), text)
		},
	}
}

func generateCommand() *cli.Command {
	def := minerconfig.DefaultGenerateOptions()
	return &cli.Command{
		Name:        "generate",
		Usage:       "Generate a pool configuration",
		Description: "Build a three-pool configuration for a pool account, as YAML or as bosminer.toml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Usage: "Pool account username", Required: true},
			&cli.StringFlag{Name: "worker", Usage: "Worker name appended to the username"},
			&cli.BoolFlag{Name: "no-v2", Usage: "Do not use Stratum V2 endpoints"},
			&cli.BoolFlag{Name: "advanced", Usage: "Include power, fan, temperature and DPS settings"},
			&cli.IntFlag{Name: "power-limit", Usage: "Power target in watts", DefaultValue: def.PowerLimit},
			&cli.BoolFlag{Name: "manual-fan", Usage: "Run fans at a fixed speed"},
			&cli.IntFlag{Name: "fan-speed", Usage: "Fixed fan speed in percent", DefaultValue: def.FanSpeed},
			&cli.IntFlag{Name: "min-fans", Usage: "Minimum number of running fans", DefaultValue: def.MinimumFans},
			&cli.IntFlag{Name: "target-temp", Usage: "Target temperature", DefaultValue: def.TargetTemp},
			&cli.IntFlag{Name: "hot-temp", Usage: "Hot temperature", DefaultValue: def.HotTemp},
			&cli.IntFlag{Name: "danger-temp", Usage: "Dangerous temperature", DefaultValue: def.DangerTemp},
			&cli.BoolFlag{Name: "dps", Usage: "Enable dynamic power scaling"},
			&cli.IntFlag{Name: "dps-step", Usage: "DPS power step in watts", DefaultValue: def.DPSPowerStep},
			&cli.IntFlag{Name: "dps-min", Usage: "DPS minimum power in watts", DefaultValue: def.DPSMinPower},
			&cli.BoolFlag{Name: "dps-shutdown", Usage: "Allow DPS to shut down"},
			&cli.IntFlag{Name: "dps-shutdown-hours", Usage: "DPS shutdown duration in hours", DefaultValue: def.DPSShutdownHr},
			&cli.BoolFlag{Name: "toml", Usage: "Render bosminer.toml instead of YAML"},
			&cli.StringFlag{Name: "model", Usage: "Device model for --toml output"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the config to a file instead of stdout"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			opts := minerconfig.GenerateOptions{
				Username:      cmd.GetString("username"),
				WorkerName:    cmd.GetString("worker"),
				AllowV2:       !cmd.GetBool("no-v2"),
				Advanced:      cmd.GetBool("advanced"),
				PowerLimit:    cmd.GetInt("power-limit"),
				ManualFan:     cmd.GetBool("manual-fan"),
				FanSpeed:      cmd.GetInt("fan-speed"),
				MinimumFans:   cmd.GetInt("min-fans"),
				TargetTemp:    cmd.GetInt("target-temp"),
				HotTemp:       cmd.GetInt("hot-temp"),
				DangerTemp:    cmd.GetInt("danger-temp"),
				DPS:           cmd.GetBool("dps"),
				DPSPowerStep:  cmd.GetInt("dps-step"),
				DPSMinPower:   cmd.GetInt("dps-min"),
				DPSShutdown:   cmd.GetBool("dps-shutdown"),
				DPSShutdownHr: cmd.GetInt("dps-shutdown-hours"),
			}
			text, err := render(opts, cmd.GetBool("toml"), cmd.GetString("model"))
			if err != nil {
				return err
			}
			return writeOutput(cmd.GetString("output"), text)
		},
	}
}

// render generates a config and encodes it as YAML or bosminer.toml.
func render(opts minerconfig.GenerateOptions, toml bool, model string) (string, error) {
	cfg, err := minerconfig.Generate(opts)
	if err != nil {
		return "", err
	}
	if toml {
		b, err := minerconfig.BOSminerTOML(cfg, model)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return minerconfig.Marshal(cfg)
}

func readInput(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}
	return string(b), nil
}

func writeOutput(path, text string) error {
	if path == "" {
		fmt.Print(text)
		return nil
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Config written to %s\n", path)
	return nil
}
