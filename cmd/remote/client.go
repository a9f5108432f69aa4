package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/martinsuchenak/asicfleet/internal/api"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/session"
)

const applicationJSON = "application/json"

// Client talks to a running asicfleet server.
type Client struct {
	base  string
	token string
	http  *retryablehttp.Client
}

// FleetView is the body of GET /api/fleet.
type FleetView struct {
	Devices []model.Record `json:"devices"`
	Rollups fleet.Rollups  `json:"rollups"`
	Sort    struct {
		Column     string `json:"column"`
		Descending bool   `json:"descending"`
	} `json:"sort"`
}

// ScanStatus is the body of the /api/scan routes.
type ScanStatus struct {
	State session.State `json:"state"`
	Scan  *model.Scan   `json:"scan,omitempty"`
}

type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...any) { log.Debug(msg, kv...) }
func (retryLogger) Info(msg string, kv ...any)  { log.Trace(msg, kv...) }
func (retryLogger) Debug(msg string, kv ...any) { log.Trace(msg, kv...) }
func (retryLogger) Warn(msg string, kv ...any)  { log.Debug(msg, kv...) }

// NewClient creates a client for the server at base.
func NewClient(base, token string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = retryLogger{}
	c.CheckRetry = checkRetry

	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  c,
	}
}

// checkRetry only retries reads on a server error. Operations are not
// idempotent, so a write is retried only when it never got a response.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) Fleet(ctx context.Context) (*FleetView, error) {
	var v FleetView
	if err := c.call(ctx, http.MethodGet, "/api/fleet", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ScanStatus(ctx context.Context) (*ScanStatus, error) {
	var s ScanStatus
	if err := c.call(ctx, http.MethodGet, "/api/scan", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StartScan starts a background scan. An empty network uses the server's
// default.
func (c *Client) StartScan(ctx context.Context, network string) (*ScanStatus, error) {
	var s ScanStatus
	body := map[string]string{"network": network}
	if err := c.call(ctx, http.MethodPost, "/api/scan", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CancelScan(ctx context.Context) (*ScanStatus, error) {
	var s ScanStatus
	if err := c.call(ctx, http.MethodDelete, "/api/scan", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RunOperation runs a bulk operation on the server and waits for it.
func (c *Client) RunOperation(ctx context.Context, kind model.OperationKind, req api.OperationRequest) (*model.Operation, error) {
	var op model.Operation
	if err := c.call(ctx, http.MethodPost, "/api/ops/"+string(kind), req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
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
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
