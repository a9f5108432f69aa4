package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

// Refresh re-reads telemetry from the selected devices. Every target gets a
// record before any fetch so devices that fail still show up.
func (d *Dispatcher) Refresh(ctx context.Context, ips []string) (*model.Operation, error) {
	ticket, err := d.guard.Begin(string(model.OpRefresh))
	if err != nil {
		return nil, err
	}
	defer ticket.End()
	return d.refresh(ctx, d.targets(ips)), nil
}

func (d *Dispatcher) refresh(ctx context.Context, ips []string) *model.Operation {
	for _, ip := range ips {
		d.store.Upsert(ip, model.Record{})
	}
	return d.execute(ctx, job{
		kind: model.OpRefresh,
		ips:  ips,
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			var err error
			for attempt := 0; attempt < d.opts.DataRetries; attempt++ {
				var t *miner.Telemetry
				if t, err = h.Telemetry(ctx, d.opts.Fields); err == nil {
					rec := model.FromTelemetry(h.IP(), t)
					return outcome{patch: &rec}, nil
				}
			}
			return outcome{}, err
		},
	}, nil)
}

// Reboot reboots the selected devices.
func (d *Dispatcher) Reboot(ctx context.Context, ips []string) (*model.Operation, error) {
	return d.simple(ctx, model.OpReboot, ips, func(ctx context.Context, h miner.Handle) error {
		return h.Reboot(ctx)
	})
}

// RestartBackend restarts the mining process on the selected devices.
func (d *Dispatcher) RestartBackend(ctx context.Context, ips []string) (*model.Operation, error) {
	return d.simple(ctx, model.OpRestartBackend, ips, func(ctx context.Context, h miner.Handle) error {
		return h.RestartBackend(ctx)
	})
}

func (d *Dispatcher) simple(ctx context.Context, kind model.OperationKind, ips []string, fn func(context.Context, miner.Handle) error) (*model.Operation, error) {
	return d.begin(ctx, job{
		kind: kind,
		ips:  d.targets(ips),
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			if err := fn(ctx, h); err != nil {
				return outcome{}, err
			}
			return outcome{output: kind.Succeeded()}, nil
		},
		failed: fixed(kind),
	})
}

// ToggleLight flips each device's fault light relative to its last known
// state.
func (d *Dispatcher) ToggleLight(ctx context.Context, ips []string) (*model.Operation, error) {
	return d.light(ctx, ips, "toggle", func(current bool) bool { return !current })
}

// SetLight turns the fault light of every selected device on or off.
func (d *Dispatcher) SetLight(ctx context.Context, ips []string, on bool) (*model.Operation, error) {
	payload := "off"
	if on {
		payload = "on"
	}
	return d.light(ctx, ips, payload, func(bool) bool { return on })
}

func (d *Dispatcher) light(ctx context.Context, ips []string, payload string, next func(bool) bool) (*model.Operation, error) {
	return d.begin(ctx, job{
		kind:    model.OpLight,
		payload: payload,
		ips:     d.targets(ips),
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			current := false
			if rec, ok := d.store.Get(h.IP()); ok {
				current = rec.LightOn()
			}
			on := next(current)
			if err := h.SetFaultLight(ctx, on); err != nil {
				return outcome{}, err
			}
			return outcome{
				output: model.OpLight.Succeeded(),
				patch:  &model.Record{Telemetry: miner.Telemetry{FaultLight: &on}},
			}, nil
		},
		failed: fixed(model.OpLight),
	})
}

// Unlock resets the API password on the selected whatsminer devices. Other
// families are skipped.
func (d *Dispatcher) Unlock(ctx context.Context, ips []string) (*model.Operation, error) {
	return d.begin(ctx, job{
		kind: model.OpUnlock,
		ips:  d.targets(ips),
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			if h.Family() != miner.FamilyWhatsminer {
				return outcome{}, errSkipped
			}
			if err := h.UnlockAdmin(ctx); err != nil {
				return outcome{}, err
			}
			return outcome{output: model.OpUnlock.Succeeded()}, nil
		},
		failed: fixed(model.OpUnlock),
	})
}

// SendCommand runs a shell command on the selected devices and stores each
// device's output.
func (d *Dispatcher) SendCommand(ctx context.Context, ips []string, command string) (*model.Operation, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}
	return d.begin(ctx, job{
		kind:    model.OpCommand,
		payload: command,
		ips:     d.targets(ips),
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			out, err := h.SendCommand(ctx, command)
			if err != nil {
				return outcome{}, err
			}
			return outcome{output: out}, nil
		},
		failed: func(string, error) string {
			return fmt.Sprintf("Command %s failed.", command)
		},
	})
}

// PushConfig parses text and pushes it to the selected devices. With
// appendIP each device's pool users get an "x<last octet>" suffix. After the
// push and SettleDelay the targets are refreshed. A document that does not
// parse fails the whole call before any device is contacted.
func (d *Dispatcher) PushConfig(ctx context.Context, ips []string, text string, appendIP bool) (*model.Operation, error) {
	cfg, err := minerconfig.Parse(text)
	if err != nil {
		return nil, err
	}

	ticket, err := d.guard.Begin(string(model.OpConfig))
	if err != nil {
		return nil, err
	}
	defer ticket.End()

	targets := d.targets(ips)
	op := d.execute(ctx, job{
		kind:    model.OpConfig,
		payload: fmt.Sprintf("append_ip=%t", appendIP),
		ips:     targets,
		call: func(ctx context.Context, h miner.Handle) (outcome, error) {
			c := cfg
			if appendIP {
				c = cfg.WithUserSuffix(minerconfig.IPSuffix(h.IP()))
			}
			if err := h.PushConfig(ctx, c); err != nil {
				return outcome{}, err
			}
			return outcome{output: model.OpConfig.Succeeded()}, nil
		},
		failed: fixed(model.OpConfig),
	}, nil)

	if d.opts.SettleDelay > 0 {
		log.Debug("Waiting for devices to apply config", "delay", d.opts.SettleDelay)
		select {
		case <-time.After(d.opts.SettleDelay):
		case <-ctx.Done():
			return op, nil
		}
	}
	ticket.Draining()
	d.refresh(ctx, targets)
	return op, nil
}

// ImportConfig reads one device's running config and renders it as a
// config document.
func (d *Dispatcher) ImportConfig(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	h, err := d.resolver.Resolve(ctx, ip)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", fmt.Errorf("%w: no miner at %s", miner.ErrUnreachable, ip)
	}
	cfg, err := h.GetConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("reading config from %s: %w", ip, err)
	}
	return minerconfig.Marshal(cfg)
}
