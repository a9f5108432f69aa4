package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// DefaultAPIPort is the CGMiner-compatible API port exposed by every
// supported firmware family except bitaxe.
const DefaultAPIPort = 4028

// maxResponseSize caps a single API answer.
const maxResponseSize = 4 << 20

// apiClient talks to the CGMiner-style JSON API over TCP, one connection per
// command.
type apiClient struct {
	ip      string
	port    int
	timeout time.Duration
}

// apiStatus is the STATUS block carried by every API answer.
type apiStatus struct {
	Status string `json:"STATUS"`
	Code   int    `json:"Code"`
	Msg    string `json:"Msg"`
}

// apiResponse maps section names (SUMMARY, STATS, POOLS, ...) to raw JSON.
type apiResponse map[string]json.RawMessage

func newAPIClient(ip string, port int, timeout time.Duration) *apiClient {
	if port == 0 {
		port = DefaultAPIPort
	}
	return &apiClient{ip: ip, port: port, timeout: timeout}
}

func (c *apiClient) addr() string {
	return net.JoinHostPort(c.ip, strconv.Itoa(c.port))
}

// Send issues one command and returns the decoded answer. A device that does
// not answer gives ErrUnreachable; an answer with an error STATUS gives
// ErrProtocol.
func (c *apiClient) Send(ctx context.Context, command, parameter string) (apiResponse, error) {
	raw, err := c.exchange(ctx, command, parameter)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding %s response: %v", miner.ErrProtocol, command, err)
	}

	status, err := resp.status()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", miner.ErrProtocol, command, err)
	}
	if status != nil && (status.Status == "E" || status.Status == "F") {
		return nil, fmt.Errorf("%w: %s: %s", miner.ErrProtocol, command, status.Msg)
	}
	return resp, nil
}

// exchange writes the request and reads until the device closes the
// connection. Trailing NUL bytes are trimmed.
func (c *apiClient) exchange(ctx context.Context, command, parameter string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", miner.ErrUnreachable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := map[string]string{"command": command}
	if parameter != "" {
		req["parameter"] = parameter
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", miner.ErrUnreachable, command, err)
	}

	raw, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("%w: reading %s: %v", miner.ErrUnreachable, command, err)
	}
	raw = bytes.TrimRight(raw, "\x00\r\n ")
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty %s response", miner.ErrUnreachable, command)
	}
	return sanitize(raw), nil
}

// sanitize repairs the malformed JSON some firmware emits: a missing comma
// between adjacent objects and a trailing comma before a closing bracket.
func sanitize(raw []byte) []byte {
	raw = bytes.ReplaceAll(raw, []byte("}{"), []byte("},{"))
	raw = bytes.ReplaceAll(raw, []byte(",}"), []byte("}"))
	raw = bytes.ReplaceAll(raw, []byte(",]"), []byte("]"))
	return raw
}

// status extracts the first STATUS entry. Whatsminer answers carry STATUS as
// a plain string rather than an array.
func (r apiResponse) status() (*apiStatus, error) {
	raw, ok := r["STATUS"]
	if !ok {
		return nil, nil
	}

	var list []apiStatus
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("unexpected STATUS shape")
	}
	st := &apiStatus{Status: s}
	if msg, ok := r["Msg"]; ok {
		var text string
		if json.Unmarshal(msg, &text) == nil {
			st.Msg = text
		}
	}
	return st, nil
}

// section decodes a named section into a list of generic objects.
func (r apiResponse) section(name string) []map[string]any {
	raw, ok := r[name]
	if !ok {
		return nil
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err == nil {
		return []map[string]any{single}
	}
	return nil
}

// message decodes the Msg body used by whatsminer answers.
func (r apiResponse) message() map[string]any {
	raw, ok := r["Msg"]
	if !ok {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}
