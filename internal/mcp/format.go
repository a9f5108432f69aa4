package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/scanner"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

// defaultColumns keep fleet_list readable in a chat window.
var defaultColumns = []fleet.Column{
	fleet.ColIP, fleet.ColModel, fleet.ColHashrate, fleet.ColTemp, fleet.ColWattage, fleet.ColOutput,
}

func parseColumns(names []string) ([]fleet.Column, error) {
	if len(names) == 0 {
		return defaultColumns, nil
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

// formatTable renders a pipe-separated table.
func formatTable(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(headers, " | "))
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatRollups(r fleet.Rollups) string {
	return strings.Join([]string{fleet.FormatCount(r), fleet.FormatHashrate(r), fleet.FormatWattage(r)}, "\n")
}

// lightState parses on/off/toggle.
func lightState(s string) (on, toggle bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "toggle":
		return false, true, nil
	case "on", "true":
		return true, false, nil
	case "off", "false":
		return false, false, nil
	}
	return false, false, fmt.Errorf("unknown light state %q (want on, off or toggle)", s)
}

func isCallerError(err error) bool {
	return errors.Is(err, minerconfig.ErrParse) ||
		errors.Is(err, dispatch.ErrEmptyCommand) ||
		errors.Is(err, scanner.ErrInvalidNetwork) ||
		errors.Is(err, session.ErrScanInProgress) ||
		errors.Is(err, worker.ErrBusy)
}
