// Package remote holds the commands that drive a running asicfleet server.
package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/api"
	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/paularlott/cli"
)

const pollInterval = time.Second

// Command returns the remote command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "remote",
		Usage:       "Drive a running asicfleet server",
		Description: "Run scans and bulk operations through the HTTP API of an asicfleet server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "server",
				Aliases:      []string{"s"},
				Usage:        "Server URL",
				DefaultValue: "http://localhost:8080",
				EnvVars:      []string{"ASICFLEET_SERVER_URL"},
				Global:       true,
			},
		},
		Commands: []*cli.Command{
			fleetCommand(),
			statusCommand(),
			scanCommand(),
			cancelCommand(),
			opCommand(),
		},
	}
}

func newClient(cmd *cli.Command) *Client {
	cfg := config.Load(config.FromCommand(cmd))
	return NewClient(cmd.GetString("server"), cfg.APIAuthToken)
}

func fleetCommand() *cli.Command {
	return &cli.Command{
		Name:  "fleet",
		Usage: "Show the server's fleet table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "columns", Usage: "Comma-separated columns to show"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cols, err := cmdutil.ParseColumns(cmd.GetString("columns"))
			if err != nil {
				return err
			}
			view, err := newClient(cmd).Fleet(ctx)
			if err != nil {
				return err
			}
			cmdutil.PrintFleet(os.Stdout, view.State(), cols)
			return nil
		},
	}
}

// State loads the view into a local fleet so it renders like a local scan.
// The server's sort column is applied when it names a known column.
func (v *FleetView) State() *fleet.State {
	s := fleet.New()
	for _, rec := range v.Devices {
		s.Upsert(rec.IP, rec)
	}
	if col, err := fleet.ParseColumn(v.Sort.Column); err == nil {
		if cur, _ := s.Sort(); cur != col {
			s.SetSort(col)
		}
		if _, desc := s.Sort(); desc != v.Sort.Descending {
			s.SetSort(col)
		}
	}
	return s
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the server's scan state",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			st, err := newClient(cmd).ScanStatus(ctx)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Start a scan on the server",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "network", Usage: "IPv4 network in CIDR notation (default from the server)"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Wait for the scan to finish"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			client := newClient(cmd)
			st, err := client.StartScan(ctx, cmd.GetStringArg("network"))
			if err != nil {
				return err
			}
			if !cmd.GetBool("wait") {
				printStatus(st)
				return nil
			}

			ctx, stop := cmdutil.SignalContext(ctx)
			defer stop()
			st, err = waitIdle(ctx, client, func(s *ScanStatus) {
				if s.Scan != nil {
					fmt.Fprintf(os.Stderr, "\rScanning %s: %d/%d hosts, %d found", s.Scan.Network, s.Scan.ProbedHosts, s.Scan.TotalHosts, s.Scan.FoundHosts)
				}
			})
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}
}

// waitIdle polls the scan state until the server is idle.
func waitIdle(ctx context.Context, client *Client, progress func(*ScanStatus)) (*ScanStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st, err := client.ScanStatus(ctx)
		if err != nil {
			return nil, err
		}
		if st.State == session.StateIdle {
			return st, nil
		}
		progress(st)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel the running scan on the server",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			st, err := newClient(cmd).CancelScan(ctx)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}
}

func opCommand() *cli.Command {
	kinds := make([]string, 0, len(model.OperationKinds))
	for _, k := range model.OperationKinds {
		kinds = append(kinds, string(k))
	}

	return &cli.Command{
		Name:        "op",
		Usage:       "Run a bulk operation on the server",
		Description: "Run one of: " + strings.Join(kinds, ", "),
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "kind", Usage: "Operation kind", Required: true},
		},
		Flags: []cli.Flag{
			cmdutil.IPsFlag(),
			&cli.StringFlag{Name: "command", Usage: "Raw command for the command operation"},
			&cli.StringFlag{Name: "file", Usage: "Config file for the config operation"},
			&cli.BoolFlag{Name: "append-ip", Usage: "Suffix pool users with each device's last IP octet"},
			&cli.StringFlag{Name: "state", Usage: "on, off or toggle for the light operation", DefaultValue: "toggle"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			kind := model.OperationKind(cmd.GetStringArg("kind"))
			req, err := buildRequest(kind, cmd)
			if err != nil {
				return err
			}
			op, err := newClient(cmd).RunOperation(ctx, kind, req)
			if err != nil {
				return err
			}
			cmdutil.PrintOperation(os.Stdout, op)
			return nil
		},
	}
}

func buildRequest(kind model.OperationKind, cmd *cli.Command) (api.OperationRequest, error) {
	req := api.OperationRequest{
		IPs:      cmdutil.ParseList(cmd.GetString("ips")),
		Command:  cmd.GetString("command"),
		AppendIP: cmd.GetBool("append-ip"),
	}

	switch kind {
	case model.OpConfig:
		path := cmd.GetString("file")
		if path == "" {
			return req, fmt.Errorf("--file is required for the config operation")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("reading config: %w", err)
		}
		req.Config = string(b)
	case model.OpLight:
		on, err := lightState(cmd.GetString("state"))
		if err != nil {
			return req, err
		}
		req.On = on
	}
	return req, nil
}

// lightState maps on/off to an explicit state and toggle to nil.
func lightState(s string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "toggle":
		return nil, nil
	case "on":
		on := true
		return &on, nil
	case "off":
		off := false
		return &off, nil
	}
	return nil, fmt.Errorf("unknown light state %q (want on, off or toggle)", s)
}

func printStatus(st *ScanStatus) {
	fmt.Printf("State: %s\n", st.State)
	if st.Scan != nil {
		cmdutil.PrintScan(os.Stdout, st.Scan)
	}
}
