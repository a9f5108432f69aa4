// Package fleet holds the local commands that scan and operate on miners.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/listener"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/paularlott/cli"
)

// Commands returns the fleet commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		scanCommand(),
		listCommand(),
		refreshCommand(),
		simpleCommand("reboot", "Reboot devices", func(d *dispatch.Dispatcher) opFunc { return d.Reboot }),
		simpleCommand("restart-backend", "Restart the mining process on devices", func(d *dispatch.Dispatcher) opFunc { return d.RestartBackend }),
		lightCommand(),
		simpleCommand("unlock", "Unlock the API of whatsminer devices", func(d *dispatch.Dispatcher) opFunc { return d.Unlock }),
		commandCommand(),
		listenCommand(),
	}
}

type opFunc func(ctx context.Context, ips []string) (*model.Operation, error)

func columnFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "columns", Usage: "Comma-separated columns to show"},
		&cli.StringFlag{Name: "sort", Usage: "Column to sort by"},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Usage:       "Scan a network for miners",
		Description: "Probe every host of a network, identify miners and collect their telemetry",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "network", Usage: "IPv4 network in CIDR notation (default from config)"},
		},
		Flags: columnFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cols, err := cmdutil.ParseColumns(cmd.GetString("columns"))
			if err != nil {
				return err
			}

			a, err := cmdutil.Open(cmd, app.Options{
				OnScan: func(s model.Scan) {
					fmt.Fprintf(os.Stderr, "\rScanning %s: %d/%d hosts, %d found", s.Network, s.ProbedHosts, s.TotalHosts, s.FoundHosts)
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			network := cmd.GetStringArg("network")
			if network == "" {
				network = a.Config.DefaultNetwork
			}
			if network == "" {
				return errors.New("no network given and no default network configured")
			}

			ctx, stop := cmdutil.SignalContext(ctx)
			defer stop()

			scan, err := a.Session.Scan(ctx, network)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			if err := applySort(a, cmd.GetString("sort")); err != nil {
				return err
			}
			cmdutil.PrintFleet(os.Stdout, a.Fleet, cols)
			fmt.Println()
			cmdutil.PrintScan(os.Stdout, scan)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "Show the fleet from the last scan",
		Description: "Print the fleet table captured by the last completed scan",
		Flags:       columnFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cols, err := cmdutil.ParseColumns(cmd.GetString("columns"))
			if err != nil {
				return err
			}
			a, err := cmdutil.Open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Fleet.Len() == 0 {
				fmt.Println("No devices known. Run a scan first.")
				return nil
			}
			if err := applySort(a, cmd.GetString("sort")); err != nil {
				return err
			}
			cmdutil.PrintFleet(os.Stdout, a.Fleet, cols)
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:        "refresh",
		Usage:       "Refresh telemetry of known devices",
		Description: "Re-read telemetry from devices without a full network scan",
		Flags:       append([]cli.Flag{cmdutil.IPsFlag()}, columnFlags()...),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cols, err := cmdutil.ParseColumns(cmd.GetString("columns"))
			if err != nil {
				return err
			}
			return runOperation(ctx, cmd, func(a *app.App) opFunc { return a.Dispatcher.Refresh }, func(a *app.App) error {
				if err := applySort(a, cmd.GetString("sort")); err != nil {
					return err
				}
				fmt.Println()
				cmdutil.PrintFleet(os.Stdout, a.Fleet, cols)
				return nil
			})
		},
	}
}

func simpleCommand(name, usage string, pick func(*dispatch.Dispatcher) opFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{cmdutil.IPsFlag()},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			return runOperation(ctx, cmd, func(a *app.App) opFunc { return pick(a.Dispatcher) }, nil)
		},
	}
}

func lightCommand() *cli.Command {
	return &cli.Command{
		Name:        "light",
		Usage:       "Switch the fault light of devices",
		Description: "Turn the locate/fault light on or off, or toggle it based on the last known state",
		Flags: []cli.Flag{
			cmdutil.IPsFlag(),
			&cli.StringFlag{Name: "state", Usage: "on, off or toggle", DefaultValue: "toggle"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			pick, err := lightOp(cmd.GetString("state"))
			if err != nil {
				return err
			}
			return runOperation(ctx, cmd, func(a *app.App) opFunc { return pick(a.Dispatcher) }, nil)
		},
	}
}

// lightOp picks the dispatcher call for a light state.
func lightOp(state string) (func(*dispatch.Dispatcher) opFunc, error) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on":
		return func(d *dispatch.Dispatcher) opFunc {
			return func(ctx context.Context, ips []string) (*model.Operation, error) {
				return d.SetLight(ctx, ips, true)
			}
		}, nil
	case "off":
		return func(d *dispatch.Dispatcher) opFunc {
			return func(ctx context.Context, ips []string) (*model.Operation, error) {
				return d.SetLight(ctx, ips, false)
			}
		}, nil
	case "toggle", "":
		return func(d *dispatch.Dispatcher) opFunc { return d.ToggleLight }, nil
	}
	return nil, fmt.Errorf("unknown light state %q (want on, off or toggle)", state)
}

func commandCommand() *cli.Command {
	return &cli.Command{
		Name:        "command",
		Usage:       "Run a shell command on devices",
		Description: "Run a shell command (e.g. \"uptime\") on every target over SSH and show each reply",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "command", Usage: "Command to send", Required: true},
		},
		Flags: []cli.Flag{cmdutil.IPsFlag()},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			command := cmd.GetStringArg("command")
			return runOperation(ctx, cmd, func(a *app.App) opFunc {
				return func(ctx context.Context, ips []string) (*model.Operation, error) {
					return a.Dispatcher.SendCommand(ctx, ips, command)
				}
			}, nil)
		},
	}
}

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:        "listen",
		Usage:       "Wait for miners to report their IP",
		Description: "Listen for the UDP broadcast a miner sends when its IP report button is pressed and print its IP and MAC",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ports", Usage: "Comma-separated UDP ports", DefaultValue: "14235,8888"},
			&cli.StringFlag{Name: "host", Usage: "Address to bind (default: all interfaces)"},
			&cli.IntFlag{Name: "timeout", Usage: "Stop after this many seconds (0: until interrupted)"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			ports, err := parsePorts(cmd.GetString("ports"))
			if err != nil {
				return err
			}

			ctx, stop := cmdutil.SignalContext(ctx)
			defer stop()
			if secs := cmd.GetInt("timeout"); secs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
				defer cancel()
			}

			l, err := listener.Listen(ctx, listener.Options{Host: cmd.GetString("host"), Ports: ports})
			if err != nil {
				return err
			}
			defer l.Close()

			fmt.Fprintln(os.Stderr, "Listening for miners, press Ctrl+C to stop")
			found := 0
			for r := range l.Reports() {
				found++
				fmt.Printf("Found miner  IP: %s  MAC: %s\n", r.IP, r.MAC)
			}
			fmt.Fprintf(os.Stderr, "Stopped listening, %d reports\n", found)
			return nil
		},
	}
}

// parsePorts reads a comma-separated UDP port list.
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, p := range cmdutil.ParseList(s) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, n)
	}
	if len(ports) == 0 {
		return nil, errors.New("no ports given")
	}
	return ports, nil
}

// runOperation opens the engine, runs one bulk operation and prints its
// outcome. after, when set, runs once the operation has finished.
func runOperation(ctx context.Context, cmd *cli.Command, pick func(*app.App) opFunc, after func(*app.App) error) error {
	a, err := cmdutil.Open(cmd, app.Options{
		OnProgress: func(p dispatch.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %d/%d", p.Kind, p.Done, p.Total)
		},
	})
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

	op, err := pick(a)(ctx, ips)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	log.Debug("Operation finished", "id", op.ID, "kind", op.Kind, "failed", op.Failed)

	cmdutil.PrintOperation(os.Stdout, op)
	if after != nil {
		return after(a)
	}
	return nil
}

func applySort(a *app.App, name string) error {
	if name == "" {
		return nil
	}
	return a.Fleet.SetSortByName(name)
}
