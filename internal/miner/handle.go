package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

const (
	bosminerConfigPath  = "/etc/bosminer.toml"
	bosminerLEDDelayOff = "cat /sys/class/leds/'Red LED'/delay_off"
)

// restartCommands are the init scripts each family uses for backend control.
var restartCommands = map[miner.Family]string{
	miner.FamilyAntminer:    "/etc/init.d/bmminer.sh restart",
	miner.FamilyVNish:       "/etc/init.d/bmminer.sh restart",
	miner.FamilyBOSminer:    "/etc/init.d/bosminer restart",
	miner.FamilyInnosilicon: "/etc/init.d/cgminer.sh restart",
}

// apiHandle drives every CGMiner-API family. Shell access is optional and
// only used for the operations the API does not cover.
type apiHandle struct {
	ip       string
	family   miner.Family
	model    string
	firmware string

	api *apiClient
	ssh *sshRunner

	mu    sync.Mutex
	light *bool
}

var _ miner.Handle = (*apiHandle)(nil)

func (h *apiHandle) IP() string           { return h.ip }
func (h *apiHandle) Family() miner.Family { return h.family }
func (h *apiHandle) Model() string        { return h.model }

// Telemetry issues only the API commands the requested fields need. The
// first command failing fails the call; later failures leave their fields
// unset.
func (h *apiHandle) Telemetry(ctx context.Context, fields miner.FieldSet) (*miner.Telemetry, error) {
	t := &miner.Telemetry{}
	if fields.Has(miner.FieldModel) && h.model != "" {
		t.Model = strPtr(h.model)
	}
	if fields.Has(miner.FieldFirmware) && h.firmware != "" {
		t.Firmware = strPtr(h.firmware)
	}

	first := true
	send := func(command string) (apiResponse, error) {
		resp, err := h.api.Send(ctx, command, "")
		if err != nil {
			if first || errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Debug("Telemetry command failed", "ip", h.ip, "command", command, "error", err)
			return nil, nil
		}
		first = false
		return resp, nil
	}

	if fields.Has(miner.FieldHashrate) || fields.Has(miner.FieldExpectedHashrate) ||
		fields.Has(miner.FieldWattage) || fields.Has(miner.FieldWattageLimit) || fields.Has(miner.FieldTemperature) {
		resp, err := send("summary")
		if err != nil {
			return nil, err
		}
		if resp != nil {
			applySummary(t, resp)
		}
	}

	if fields.Has(miner.FieldHashboards) || fields.Has(miner.FieldExpectedHashrate) || fields.Has(miner.FieldTemperature) {
		resp, err := send("stats")
		if err != nil {
			return nil, err
		}
		if resp != nil {
			applyStats(t, resp)
		}
		if len(t.Hashboards) == 0 && fields.Has(miner.FieldHashboards) {
			resp, err := send("devs")
			if err != nil {
				return nil, err
			}
			if resp != nil {
				applyDevs(t, resp)
			}
		}
		if fields.Has(miner.FieldHashboards) {
			t.ExpectedChips = expectedChips(h.model)
		}
	}

	if fields.Has(miner.FieldPools) {
		resp, err := send("pools")
		if err != nil {
			return nil, err
		}
		if resp != nil {
			applyPools(t, resp)
		}
	}

	if fields.Has(miner.FieldErrors) {
		if h.family == miner.FamilyWhatsminer {
			resp, err := send("get_error_code")
			if err != nil {
				return nil, err
			}
			if resp != nil {
				t.Errors = parseErrorCodes(resp)
			}
		} else {
			t.Errors = []miner.Error{}
		}
	}

	if first {
		// Nothing was asked of the API; confirm the device still answers.
		if _, err := h.api.Send(ctx, "version", ""); err != nil {
			return nil, err
		}
	}

	if fields.Has(miner.FieldHostname) {
		if names, err := net.DefaultResolver.LookupAddr(ctx, h.ip); err == nil && len(names) > 0 {
			t.Hostname = strPtr(strings.TrimSuffix(names[0], "."))
		}
	}
	if fields.Has(miner.FieldFaultLight) {
		t.FaultLight = h.faultLight(ctx)
	}
	return t, nil
}

// faultLight reads the LED state from the device. Families without a
// readable LED report the state this handle last set, if any.
func (h *apiHandle) faultLight(ctx context.Context) *bool {
	var on bool
	switch {
	case h.family == miner.FamilyWhatsminer:
		resp, err := h.api.Send(ctx, "get_miner_info", "ledstat")
		if err != nil {
			log.Debug("Reading LED state failed", "ip", h.ip, "error", err)
			return h.lastLight()
		}
		stat, ok := text(resp.message(), "ledstat")
		if !ok {
			return h.lastLight()
		}
		on = !strings.HasPrefix(stat, "auto")
	case h.family == miner.FamilyBOSminer && h.ssh != nil:
		out, err := h.ssh.Run(ctx, bosminerLEDDelayOff)
		if err != nil {
			log.Debug("Reading LED state failed", "ip", h.ip, "error", err)
			return h.lastLight()
		}
		// bosminer blinks the red LED with a 50ms off period while the
		// fault light is on.
		on = strings.TrimSpace(out) == "50"
	default:
		return h.lastLight()
	}

	h.mu.Lock()
	h.light = &on
	h.mu.Unlock()
	return &on
}

func (h *apiHandle) lastLight() *bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.light == nil {
		return nil
	}
	on := *h.light
	return &on
}

func (h *apiHandle) requireSSH(what string) error {
	if h.ssh == nil {
		return fmt.Errorf("%w: %s needs shell access on %s", miner.ErrUnsupported, what, h.family)
	}
	return nil
}

func (h *apiHandle) SendCommand(ctx context.Context, command string) (string, error) {
	if err := h.requireSSH("raw commands"); err != nil {
		return "", err
	}
	return h.ssh.Run(ctx, command)
}

func (h *apiHandle) PushConfig(ctx context.Context, cfg *minerconfig.Config) error {
	if h.family != miner.FamilyBOSminer {
		return fmt.Errorf("%w: config push on %s", miner.ErrUnsupported, h.family)
	}
	if err := h.requireSSH("config push"); err != nil {
		return err
	}

	doc, err := minerconfig.BOSminerTOML(cfg, h.model)
	if err != nil {
		return fmt.Errorf("%w: rendering config: %v", miner.ErrProtocol, err)
	}
	if err := h.ssh.Upload(ctx, bosminerConfigPath, doc); err != nil {
		return err
	}
	_, err = h.ssh.Run(ctx, restartCommands[miner.FamilyBOSminer])
	return err
}

// GetConfig reads the BOSminer config file when shell access is available and
// falls back to the pool list every family reports over the API.
func (h *apiHandle) GetConfig(ctx context.Context) (*minerconfig.Config, error) {
	if h.family == miner.FamilyBOSminer && h.ssh != nil {
		out, err := h.ssh.Run(ctx, "cat "+bosminerConfigPath)
		if err == nil {
			cfg, perr := minerconfig.FromBOSminerTOML([]byte(out))
			if perr == nil {
				return cfg, nil
			}
			log.Debug("Unreadable bosminer.toml, using pool list", "ip", h.ip, "error", perr)
		}
	}

	resp, err := h.api.Send(ctx, "pools", "")
	if err != nil {
		return nil, err
	}
	var t miner.Telemetry
	applyPools(&t, resp)
	return configFromPools(t.PoolGroups)
}

func (h *apiHandle) Reboot(ctx context.Context) error {
	switch h.family {
	case miner.FamilyWhatsminer:
		_, err := h.api.Send(ctx, "reboot", "")
		return err
	case miner.FamilyAvalon:
		_, err := h.api.Send(ctx, "ascset", "0,reboot,0")
		return err
	}
	if err := h.requireSSH("reboot"); err != nil {
		return err
	}
	_, err := h.ssh.Run(ctx, "/sbin/reboot")
	return err
}

func (h *apiHandle) RestartBackend(ctx context.Context) error {
	switch h.family {
	case miner.FamilyWhatsminer:
		_, err := h.api.Send(ctx, "restart_btminer", "")
		return err
	case miner.FamilyAvalon, miner.FamilyGoldshell:
		_, err := h.api.Send(ctx, "restart", "")
		return err
	}
	cmd, ok := restartCommands[h.family]
	if !ok {
		return fmt.Errorf("%w: backend restart on %s", miner.ErrUnsupported, h.family)
	}
	if err := h.requireSSH("backend restart"); err != nil {
		return err
	}
	_, err := h.ssh.Run(ctx, cmd)
	return err
}

func (h *apiHandle) SetFaultLight(ctx context.Context, on bool) error {
	var err error
	switch h.family {
	case miner.FamilyBOSminer:
		if err = h.requireSSH("fault light"); err != nil {
			return err
		}
		state := "off"
		if on {
			state = "on"
		}
		_, err = h.ssh.Run(ctx, "miner fault_light "+state)
	case miner.FamilyWhatsminer:
		param := "auto"
		if on {
			param = "red,1000,0,1000"
		}
		_, err = h.api.Send(ctx, "set_led", param)
	default:
		return fmt.Errorf("%w: fault light on %s", miner.ErrUnsupported, h.family)
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.light = &on
	h.mu.Unlock()
	return nil
}

// UnlockAdmin resets the whatsminer API password from the shell default back
// to "admin".
func (h *apiHandle) UnlockAdmin(ctx context.Context) error {
	if h.family != miner.FamilyWhatsminer {
		return fmt.Errorf("%w: admin unlock on %s", miner.ErrUnsupported, h.family)
	}
	_, err := h.api.Send(ctx, "update_pwd", "root,admin")
	return err
}

// configFromPools builds a config document from reported pool groups.
func configFromPools(groups []miner.PoolGroup) (*minerconfig.Config, error) {
	cfg := &minerconfig.Config{}
	for i, g := range groups {
		pg := minerconfig.PoolGroup{Name: fmt.Sprintf("group_%d", i), Quota: g.Quota}
		for _, p := range g.Pools {
			pg.Pools = append(pg.Pools, minerconfig.Pool{URL: p.URL, User: p.User, Password: "x"})
		}
		cfg.Pools.Groups = append(cfg.Pools.Groups, pg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", miner.ErrProtocol, err)
	}
	return cfg, nil
}
