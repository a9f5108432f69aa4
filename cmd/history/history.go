// Package history holds the commands that read past scans and operations.
package history

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/storage"
	"github.com/paularlott/cli"
)

const timeLayout = "2006-01-02 15:04:05"

// Commands returns the history commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "scans",
			Usage: "List past scans",
			Flags: []cli.Flag{limitFlag()},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(cmd, func(store storage.Storage) error {
					scans, err := store.ListScans(cmd.GetInt("limit"))
					if err != nil {
						return err
					}
					printScans(os.Stdout, scans)
					return nil
				})
			},
		},
		{
			Name:  "scan",
			Usage: "Show one scan",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(cmd, func(store storage.Storage) error {
					scan, err := store.GetScan(cmd.GetStringArg("id"))
					if err != nil {
						return err
					}
					cmdutil.PrintScan(os.Stdout, scan)
					return nil
				})
			},
		},
		{
			Name:  "ops",
			Usage: "List past bulk operations",
			Flags: []cli.Flag{limitFlag()},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(cmd, func(store storage.Storage) error {
					ops, err := store.ListOperations(cmd.GetInt("limit"))
					if err != nil {
						return err
					}
					printOperations(os.Stdout, ops)
					return nil
				})
			},
		},
		{
			Name:  "op",
			Usage: "Show one bulk operation with per-device results",
			Arguments: []cli.Argument{
				&cli.StringArg{Name: "id", Required: true},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(cmd, func(store storage.Storage) error {
					op, err := store.GetOperation(cmd.GetStringArg("id"))
					if err != nil {
						return err
					}
					fmt.Printf("Operation %s (%s)", op.ID, op.Kind)
					if op.Payload != "" {
						fmt.Printf(": %s", op.Payload)
					}
					fmt.Print("\n\n")
					cmdutil.PrintOperation(os.Stdout, op)
					return nil
				})
			},
		},
	}
}

func limitFlag() cli.Flag {
	return &cli.IntFlag{Name: "limit", Usage: "Maximum entries to list", DefaultValue: storage.DefaultListLimit}
}

func withStore(cmd *cli.Command, fn func(storage.Storage) error) error {
	cfg, err := cmdutil.Config(cmd)
	if err != nil {
		return err
	}
	store, err := storage.NewSQLiteStorage(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printScans(w io.Writer, scans []model.Scan) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}
	rows := make([][]string, 0, len(scans))
	for _, s := range scans {
		rows = append(rows, []string{
			s.ID,
			s.Network,
			s.Status,
			fmt.Sprintf("%d/%d", s.ProbedHosts, s.TotalHosts),
			strconv.Itoa(s.FoundHosts),
			s.StartedAt.Local().Format(timeLayout),
			duration(s.StartedAt, s.CompletedAt),
		})
	}
	cmdutil.PrintTable(w, []string{"ID", "NETWORK", "STATUS", "PROBED", "FOUND", "STARTED", "TOOK"}, rows)
}

func printOperations(w io.Writer, ops []model.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded.")
		return
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		completed := op.CompletedAt
		rows = append(rows, []string{
			op.ID,
			string(op.Kind),
			strconv.Itoa(len(op.Targets)),
			strconv.Itoa(op.Succeeded),
			strconv.Itoa(op.Failed),
			strconv.Itoa(op.Skipped),
			op.StartedAt.Local().Format(timeLayout),
			duration(op.StartedAt, &completed),
		})
	}
	cmdutil.PrintTable(w, []string{"ID", "KIND", "TARGETS", "OK", "FAILED", "SKIPPED", "STARTED", "TOOK"}, rows)
}

func duration(start time.Time, end *time.Time) string {
	if end == nil || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}
