package cmdutil

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/model"
)

// DefaultColumns is the fleet table shown when --columns is not given.
var DefaultColumns = []fleet.Column{
	fleet.ColIP, fleet.ColModel, fleet.ColHashrate, fleet.ColTemp, fleet.ColWattage, fleet.ColOutput,
}

// ParseColumns turns a comma-separated --columns value into columns.
func ParseColumns(s string) ([]fleet.Column, error) {
	names := ParseList(s)
	if len(names) == 0 {
		return DefaultColumns, nil
	}
	cols := make([]fleet.Column, 0, len(names))
	for _, n := range names {
		c, err := fleet.ParseColumn(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// PrintFleet writes the fleet table followed by the rollups.
func PrintFleet(w io.Writer, state *fleet.State, cols []fleet.Column) {
	headers, rows := state.Table(cols)
	PrintTable(w, headers, rows)
	PrintRollups(w, state.Rollups())
}

// PrintRollups writes the three rollup lines.
func PrintRollups(w io.Writer, r fleet.Rollups) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, fleet.FormatCount(r))
	fmt.Fprintln(w, fleet.FormatHashrate(r))
	fmt.Fprintln(w, fleet.FormatWattage(r))
}

// PrintOperation writes one line per device and the operation counts.
func PrintOperation(w io.Writer, op *model.Operation) {
	rows := make([][]string, 0, len(op.Results))
	for _, r := range op.Results {
		rows = append(rows, []string{r.IP, resultStatus(r), strings.TrimSpace(r.Output + " " + r.Error)})
	}
	if len(rows) > 0 {
		PrintTable(w, []string{"IP", "STATUS", "OUTPUT"}, rows)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s: %d succeeded, %d failed", op.Kind.Label(), op.Succeeded, op.Failed)
	if op.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", op.Skipped)
	}
	fmt.Fprintf(w, " in %s\n", op.CompletedAt.Sub(op.StartedAt).Round(time.Millisecond))
}

func resultStatus(r model.OperationResult) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.OK:
		return "ok"
	default:
		return "failed"
	}
}

// PrintScan writes one scan summary line.
func PrintScan(w io.Writer, s *model.Scan) {
	fmt.Fprintf(w, "Scan %s of %s %s: %d/%d hosts probed, %d miners found\n",
		s.ID, s.Network, s.Status, s.ProbedHosts, s.TotalHosts, s.FoundHosts)
	if s.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", s.ErrorMessage)
	}
}
