// Package report holds the fleet report commands.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/paularlott/cli"
)

// Commands returns the report commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:        "boards",
			Usage:       "Report hashboard chip counts",
			Description: "List each device's per-board chip counts and flag boards below the ideal share",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:         "ideal",
					Usage:        "Share of expected chips below which a board is bad (0-1]",
					DefaultValue: strconv.FormatFloat(fleet.DefaultChipIdeal, 'f', -1, 64),
				},
				&cli.BoolFlag{Name: "bad-only", Usage: "Only list devices with bad boards"},
			},
			Run: func(ctx context.Context, cmd *cli.Command) error {
				ideal, err := strconv.ParseFloat(cmd.GetString("ideal"), 64)
				if err != nil || ideal <= 0 || ideal > 1 {
					return fmt.Errorf("invalid --ideal %q: want a number in (0, 1]", cmd.GetString("ideal"))
				}
				a, err := cmdutil.Open(cmd, app.Options{})
				if err != nil {
					return err
				}
				defer a.Close()

				printBoards(os.Stdout, a.Fleet.BoardReport(ideal), cmd.GetBool("bad-only"))
				return nil
			},
		},
		{
			Name:        "errors",
			Usage:       "List device error codes",
			Description: "List every error code reported by devices in the last scan",
			Run: func(ctx context.Context, cmd *cli.Command) error {
				a, err := cmdutil.Open(cmd, app.Options{})
				if err != nil {
					return err
				}
				defer a.Close()

				printErrors(os.Stdout, a.Fleet.Errors())
				return nil
			},
		},
		{
			Name:  "summary",
			Usage: "Show the fleet rollups",
			Run: func(ctx context.Context, cmd *cli.Command) error {
				a, err := cmdutil.Open(cmd, app.Options{})
				if err != nil {
					return err
				}
				defer a.Close()

				cmdutil.PrintRollups(os.Stdout, a.Fleet.Rollups())
				return nil
			},
		},
	}
}

func printBoards(w io.Writer, rows []fleet.BoardRow, badOnly bool) {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		if badOnly && r.BadBoards == 0 {
			continue
		}
		boards := make([]string, 0, len(r.Boards))
		for _, b := range r.Boards {
			cell := fmt.Sprintf("%d:%s", b.Slot, count(b.Chips))
			if b.Bad {
				cell += "!"
			}
			boards = append(boards, cell)
		}
		out = append(out, []string{
			r.IP,
			r.Model,
			strings.Join(boards, " "),
			count(r.TotalChips) + "/" + count(r.ExpectedChips),
			strconv.Itoa(r.BadBoards),
		})
	}
	if len(out) == 0 {
		fmt.Fprintln(w, "No boards to report.")
		return
	}
	cmdutil.PrintTable(w, []string{"IP", "MODEL", "BOARDS", "CHIPS", "BAD"}, out)
}

func printErrors(w io.Writer, rows []fleet.ErrorRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No errors reported.")
		return
	}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.IP, strconv.Itoa(r.Code), r.Message})
	}
	cmdutil.PrintTable(w, []string{"IP", "CODE", "MESSAGE"}, out)
}

func count(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
