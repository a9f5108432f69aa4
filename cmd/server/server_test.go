package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/api"
	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/internal/config"
	"github.com/martinsuchenak/asicfleet/internal/mcp"
)

func setupServer(t *testing.T, apiToken string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		PingRetries:     1,
		PingTimeout:     100 * time.Millisecond,
		ScanThreads:     2,
		GetMinerRetries: 1,
		GetDataRetries:  1,
		RebootThreads:   2,
		ConfigThreads:   2,
		CommandThreads:  2,
		DataDir:         t.TempDir(),
		ListenAddr:      ":0",
		APIAuthToken:    apiToken,
	}
	a, err := app.New(cfg, app.Options{History: true})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	ctx := context.Background()
	return NewMux(&ServerConfig{
		App: a,
		APIHandler: api.NewHandler(ctx, api.Deps{
			Fleet:      a.Fleet,
			Session:    a.Session,
			Dispatcher: a.Dispatcher,
			Guard:      a.Guard,
			History:    a.Store,
		}),
		MCPServer: mcp.NewServer(ctx, mcp.Deps{
			Fleet:      a.Fleet,
			Session:    a.Session,
			Dispatcher: a.Dispatcher,
		}, ""),
	})
}

func TestNewMux_Status(t *testing.T) {
	h := setupServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security headers missing, X-Content-Type-Options = %q", got)
	}
}

func TestNewMux_Auth(t *testing.T) {
	h := setupServer(t, "secret")

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"valid token", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fleet", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestRunServer_StopsOnCancel(t *testing.T) {
	cfg := &config.Config{
		ScanThreads: 1, RebootThreads: 1, ConfigThreads: 1, CommandThreads: 1,
		GetMinerRetries: 1, GetDataRetries: 1, PingRetries: 1,
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &ServerConfig{
		App:        a,
		APIHandler: api.NewHandler(ctx, api.Deps{Fleet: a.Fleet, Session: a.Session, Dispatcher: a.Dispatcher, Guard: a.Guard}),
		MCPServer:  mcp.NewServer(ctx, mcp.Deps{Fleet: a.Fleet, Session: a.Session, Dispatcher: a.Dispatcher}, ""),
	}

	done := make(chan error, 1)
	go func() { done <- RunServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunServer() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunServer did not stop after cancel")
	}
}
