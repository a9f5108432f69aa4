package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

const applicationJSON = "application/json"

// bitaxeInfo is the subset of /api/system/info the driver reads.
type bitaxeInfo struct {
	Power               *float64 `json:"power"`
	Temp                *float64 `json:"temp"`
	HashRate            *float64 `json:"hashRate"`
	ExpectedHashrate    *float64 `json:"expectedHashrate"`
	Hostname            string   `json:"hostname"`
	Version             string   `json:"version"`
	ASICModel           string   `json:"ASICModel"`
	ASICCount           *int     `json:"asicCount"`
	StratumURL          string   `json:"stratumURL"`
	StratumPort         int      `json:"stratumPort"`
	StratumUser         string   `json:"stratumUser"`
	FallbackStratumURL  string   `json:"fallbackStratumURL"`
	FallbackStratumPort int      `json:"fallbackStratumPort"`
	FallbackStratumUser string   `json:"fallbackStratumUser"`
}

// bitaxeClient talks to the AxeOS HTTP API.
type bitaxeClient struct {
	base string
	http *retryablehttp.Client
}

// retryLogger routes retryablehttp's leveled logging into the package logger.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...any) { log.Debug(msg, kv...) }
func (retryLogger) Info(msg string, kv ...any)  { log.Trace(msg, kv...) }
func (retryLogger) Debug(msg string, kv ...any) { log.Trace(msg, kv...) }
func (retryLogger) Warn(msg string, kv ...any)  { log.Debug(msg, kv...) }

func newBitaxeClient(ip string, port int, retries int, timeout time.Duration) *bitaxeClient {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = retryLogger{}

	host := ip
	if port != 0 && port != 80 {
		host = net.JoinHostPort(ip, strconv.Itoa(port))
	}
	return &bitaxeClient{base: "http://" + host, http: c}
}

func (c *bitaxeClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", applicationJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", miner.ErrUnreachable, method, path, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d", miner.ErrProtocol, method, path, resp.StatusCode)
	}
	return resp, nil
}

func (c *bitaxeClient) Info(ctx context.Context) (*bitaxeInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/system/info", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info bitaxeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding system info: %v", miner.ErrProtocol, err)
	}
	if info.ASICModel == "" && info.HashRate == nil {
		return nil, fmt.Errorf("%w: not an AxeOS device", miner.ErrProtocol)
	}
	return &info, nil
}

// bitaxeHandle drives a single-chip AxeOS device.
type bitaxeHandle struct {
	ip     string
	model  string
	client *bitaxeClient
}

var _ miner.Handle = (*bitaxeHandle)(nil)

func (h *bitaxeHandle) IP() string           { return h.ip }
func (h *bitaxeHandle) Family() miner.Family { return miner.FamilyBitaxe }
func (h *bitaxeHandle) Model() string        { return h.model }

func (h *bitaxeHandle) Telemetry(ctx context.Context, fields miner.FieldSet) (*miner.Telemetry, error) {
	info, err := h.client.Info(ctx)
	if err != nil {
		return nil, err
	}

	t := &miner.Telemetry{}
	if fields.Has(miner.FieldModel) {
		t.Model = strPtr(h.model)
	}
	if fields.Has(miner.FieldFirmware) && info.Version != "" {
		t.Firmware = strPtr(info.Version)
	}
	if fields.Has(miner.FieldHostname) && info.Hostname != "" {
		t.Hostname = strPtr(info.Hostname)
	}
	if fields.Has(miner.FieldHashrate) && info.HashRate != nil {
		th := round2(*info.HashRate / 1000)
		t.Hashrate = &th
	}
	if fields.Has(miner.FieldExpectedHashrate) && info.ExpectedHashrate != nil {
		th := round2(*info.ExpectedHashrate / 1000)
		t.ExpectedHashrate = &th
	}
	if fields.Has(miner.FieldTemperature) && info.Temp != nil {
		t.Temperature = info.Temp
	}
	if fields.Has(miner.FieldWattage) && info.Power != nil {
		w := int(*info.Power)
		t.Wattage = &w
	}
	if fields.Has(miner.FieldHashboards) {
		b := miner.Hashboard{Slot: 0, Chips: info.ASICCount, Temperature: info.Temp}
		if info.HashRate != nil {
			th := round2(*info.HashRate / 1000)
			b.Hashrate = &th
		}
		t.Hashboards = []miner.Hashboard{b}
		t.ExpectedChips = info.ASICCount
	}
	if fields.Has(miner.FieldPools) {
		t.PoolGroups = []miner.PoolGroup{{Quota: 1, Pools: info.pools()}}
	}
	if fields.Has(miner.FieldErrors) {
		t.Errors = []miner.Error{}
	}
	return t, nil
}

func (info *bitaxeInfo) pools() []miner.Pool {
	var pools []miner.Pool
	if info.StratumURL != "" {
		pools = append(pools, miner.Pool{URL: stratumURL(info.StratumURL, info.StratumPort), User: info.StratumUser})
	}
	if info.FallbackStratumURL != "" {
		pools = append(pools, miner.Pool{URL: stratumURL(info.FallbackStratumURL, info.FallbackStratumPort), User: info.FallbackStratumUser})
	}
	return pools
}

func stratumURL(host string, port int) string {
	if !strings.Contains(host, "://") {
		host = "stratum+tcp://" + host
	}
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

// splitStratumURL turns "stratum+tcp://host:port" into the host and port
// fields AxeOS expects.
func splitStratumURL(url string) (string, int) {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return rest, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (h *bitaxeHandle) SendCommand(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: raw commands", miner.ErrUnsupported)
}

func (h *bitaxeHandle) PushConfig(ctx context.Context, cfg *minerconfig.Config) error {
	if cfg == nil || len(cfg.Pools.Groups) == 0 || len(cfg.Pools.Groups[0].Pools) == 0 {
		return fmt.Errorf("%w: config has no pools", miner.ErrProtocol)
	}
	pools := cfg.Pools.Groups[0].Pools

	body := map[string]any{}
	host, port := splitStratumURL(pools[0].URL)
	body["stratumURL"] = host
	body["stratumPort"] = port
	body["stratumUser"] = pools[0].User
	body["stratumPassword"] = pools[0].Password
	if len(pools) > 1 {
		host, port := splitStratumURL(pools[1].URL)
		body["fallbackStratumURL"] = host
		body["fallbackStratumPort"] = port
		body["fallbackStratumUser"] = pools[1].User
		body["fallbackStratumPassword"] = pools[1].Password
	}

	resp, err := h.client.do(ctx, http.MethodPatch, "/api/system", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (h *bitaxeHandle) GetConfig(ctx context.Context) (*minerconfig.Config, error) {
	info, err := h.client.Info(ctx)
	if err != nil {
		return nil, err
	}
	return configFromPools([]miner.PoolGroup{{Quota: 1, Pools: info.pools()}})
}

func (h *bitaxeHandle) Reboot(ctx context.Context) error {
	resp, err := h.client.do(ctx, http.MethodPost, "/api/system/restart", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (h *bitaxeHandle) RestartBackend(ctx context.Context) error {
	return h.Reboot(ctx)
}

func (h *bitaxeHandle) SetFaultLight(context.Context, bool) error {
	return fmt.Errorf("%w: fault light", miner.ErrUnsupported)
}

func (h *bitaxeHandle) UnlockAdmin(context.Context) error {
	return fmt.Errorf("%w: admin unlock", miner.ErrUnsupported)
}

func strPtr(s string) *string { return &s }
