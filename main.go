package main

import (
	"context"
	"os"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/cmd/configure"
	"github.com/martinsuchenak/asicfleet/cmd/fleet"
	"github.com/martinsuchenak/asicfleet/cmd/history"
	"github.com/martinsuchenak/asicfleet/cmd/remote"
	"github.com/martinsuchenak/asicfleet/cmd/report"
	"github.com/martinsuchenak/asicfleet/cmd/server"
	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:         "log-level",
			Usage:        "Log level (trace, debug, info, warn, error)",
			DefaultValue: "info",
			EnvVars:      []string{"ASICFLEET_LOG_LEVEL"},
			Global:       true,
		},
		&cli.StringFlag{
			Name:         "log-format",
			Usage:        "Log format (console, json)",
			DefaultValue: "console",
			EnvVars:      []string{"ASICFLEET_LOG_FORMAT"},
			Global:       true,
		},
	}
	flags = append(flags, config.GetFlags()...)
	flags = append(flags, cmdutil.Flags()...)

	commands := fleet.Commands()
	commands = append(commands,
		&cli.Command{
			Name:        "config",
			Usage:       "Miner configuration commands",
			Description: "Push, import and generate pool configurations",
			Commands:    configure.Commands(),
		},
		&cli.Command{
			Name:        "report",
			Usage:       "Fleet reports",
			Description: "Board chip counts, device errors and rollups from the last scan",
			Commands:    report.Commands(),
		},
		&cli.Command{
			Name:        "history",
			Usage:       "Scan and operation history",
			Description: "Read past scans and bulk operations from the history database",
			Commands:    history.Commands(),
		},
		server.Command(),
		remote.Command(),
	)

	rootCmd := &cli.Command{
		Name:        "asicfleet",
		Version:     version + " (" + commit + ", " + date + ")",
		Usage:       "Fleet management for crypto-mining ASICs",
		Description: "Scan networks for mining ASICs, watch their telemetry and run bulk operations on them",
		Flags:       flags,
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logLevel := cmd.GetString("log-level")
			logFormat := cmd.GetString("log-format")
			log.Configure(logLevel, logFormat)
			return ctx, nil
		},
		Commands: commands,
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
