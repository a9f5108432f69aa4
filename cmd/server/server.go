package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/martinsuchenak/asicfleet/cmd/cmdutil"
	"github.com/martinsuchenak/asicfleet/internal/api"
	"github.com/martinsuchenak/asicfleet/internal/app"
	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/mcp"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/paularlott/cli"
)

const shutdownTimeout = 10 * time.Second

// Event types published on /api/events.
const (
	EventFleet     = "fleet"
	EventScan      = "scan"
	EventOperation = "operation"
	EventGuard     = "guard"
)

// ServerConfig holds configuration for running the server
type ServerConfig struct {
	App        *app.App
	APIHandler *api.Handler
	MCPServer  *mcp.Server
}

// NewMux registers the API and MCP routes and applies the middleware.
func NewMux(cfg *ServerConfig) http.Handler {
	mux := http.NewServeMux()

	cfg.APIHandler.RegisterRoutes(mux)
	mux.HandleFunc("/mcp", cfg.MCPServer.GetHTTPHandler())

	var handler http.Handler = mux
	if cfg.App.Config.IsAPIAuthEnabled() {
		handler = api.AuthMiddleware(cfg.App.Config.APIAuthToken, handler)
	}
	return api.SecurityHeadersMiddleware(handler)
}

// RunServer serves until ctx is cancelled, then shuts down gracefully.
func RunServer(ctx context.Context, cfg *ServerConfig) error {
	addr := cfg.App.Config.ListenAddr
	server := &http.Server{
		Addr:              addr,
		Handler:           NewMux(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Graceful shutdown failed, closing", "error", err)
			server.Close()
		}
	}()

	log.Info("Starting asicfleet server", "addr", addr)
	log.Info("API available", "url", "http://localhost"+addr+"/api/")
	log.Info("Events available", "url", "ws://localhost"+addr+"/api/events")
	log.Info("MCP available", "url", "http://localhost"+addr+"/mcp")
	if cfg.App.Config.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	}
	cfg.MCPServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Start the asicfleet server",
		Description: "Start the HTTP server with the fleet API, live events and MCP endpoint",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}
			log.Info("Configuration loaded", "data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			hub := api.NewHub()
			a, err := app.New(cfg, app.Options{
				History:    true,
				OnScan:     func(s model.Scan) { hub.Publish(EventScan, s) },
				OnProgress: func(p dispatch.Progress) { hub.Publish(EventOperation, p) },
				OnGuard:    func(s worker.Status) { hub.Publish(EventGuard, s) },
			})
			if err != nil {
				log.Error("Failed to initialize engine", "error", err)
				return err
			}
			defer a.Close()

			restored, err := a.Restore()
			if err != nil {
				log.Warn("Could not restore last fleet", "error", err)
			} else if restored > 0 {
				log.Info("Restored fleet from last scan", "devices", restored)
			}

			unsubscribe := a.Fleet.Subscribe(func(ev fleet.Event) { hub.Publish(EventFleet, ev) })
			defer unsubscribe()

			if err := a.StartScheduler(); err != nil {
				log.Error("Failed to start scheduler", "error", err)
				return err
			}

			ctx, stop := cmdutil.SignalContext(ctx)
			defer stop()

			apiHandler := api.NewHandler(ctx, api.Deps{
				Fleet:          a.Fleet,
				Session:        a.Session,
				Dispatcher:     a.Dispatcher,
				Guard:          a.Guard,
				History:        a.Store,
				DefaultNetwork: cfg.DefaultNetwork,
				Events:         hub,
			})
			mcpServer := mcp.NewServer(ctx, mcp.Deps{
				Fleet:          a.Fleet,
				Session:        a.Session,
				Dispatcher:     a.Dispatcher,
				DefaultNetwork: cfg.DefaultNetwork,
			}, cfg.MCPAuthToken)

			return RunServer(ctx, &ServerConfig{
				App:        a,
				APIHandler: apiHandler,
				MCPServer:  mcpServer,
			})
		},
	}
}
