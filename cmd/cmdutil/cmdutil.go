// Package cmdutil holds the pieces shared by the command-line front ends.
package cmdutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/paularlott/cli"
	"golang.org/x/term"
)

// Flags are the global flags every local command understands, on top of
// config.GetFlags.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:   "ask-password",
			Usage:  "Prompt for the password of a firmware family (e.g. whatsminer)",
			Global: true,
		},
	}
}

// IPsFlag selects the target devices of a bulk command.
func IPsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "ips",
		Usage: "Comma-separated device IPs (default: every known device)",
	}
}

// Config loads the configuration for cmd and applies --ask-password.
func Config(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Load(config.FromCommand(cmd))

	if name := cmd.GetString("ask-password"); name != "" {
		family, err := parseFamily(name)
		if err != nil {
			return nil, err
		}
		pw, err := PromptPassword(os.Stdin, os.Stderr, string(family)+" password: ")
		if err != nil {
			return nil, err
		}
		cfg.Passwords[family] = pw
	}
	return cfg, nil
}

// Open loads the configuration and opens the engine with the last captured
// fleet restored.
func Open(cmd *cli.Command, opts app.Options) (*app.App, error) {
	cfg, err := Config(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(cfg, opts)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func parseFamily(name string) (miner.Family, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range miner.Families {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown firmware family %q", name)
}

// PromptPassword reads a password without echo when in is a terminal, and a
// plain line otherwise.
func PromptPassword(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ParseList splits a comma-separated flag value, dropping empty entries.
func ParseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PrintTable writes an aligned table.
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
