// Package mcp exposes the fleet engine as MCP tools.
package mcp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/listener"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/paularlott/mcp"
)

const serverVersion = "1.0.0"

// maxListen bounds how long fleet_listen may hold a request open.
const maxListen = 5 * time.Minute

// Deps are the engine parts the tools drive.
type Deps struct {
	Fleet          *fleet.State
	Session        *session.Controller
	Dispatcher     *dispatch.Dispatcher
	DefaultNetwork string
	// Listen overrides the UDP ports and bind host of fleet_listen.
	Listen listener.Options
}

// Server wraps the MCP server with the fleet engine
type Server struct {
	mcpServer   *mcp.Server
	ctx         context.Context
	deps        Deps
	bearerToken string
}

// NewServer creates a new MCP server. Scans started by a tool run under ctx
// so they outlive the request.
func NewServer(ctx context.Context, deps Deps, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("asicfleet", serverVersion),
		ctx:         ctx,
		deps:        deps,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

// registerTools registers all fleet tools
func (s *Server) registerTools() {
	// Read-only tools

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_list", "List every known miner with its telemetry, in the current sort order",
			mcp.StringArray("columns", "Columns to show (e.g. IP, Model, Hashrate, Temp, Wattage, Output). Defaults to a compact set"),
			mcp.String("sort", "Column to sort by; naming the current sort column again flips the direction"),
		),
		s.handleFleetList,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_rollups", "Fleet totals: device count, current/expected hashrate and wattage"),
		s.handleFleetRollups,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_errors", "List error codes reported by miners"),
		s.handleFleetErrors,
	)

	// Scanning

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_scan", "Start discovering miners on a network. Returns at once; use fleet_list to watch results",
			mcp.String("network", "Network to scan, e.g. 10.0.0.0/24 or 10.0.0.0/255.255.255.0. Defaults to the configured network"),
		),
		s.handleFleetScan,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_scan_cancel", "Cancel the running scan"),
		s.handleFleetScanCancel,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_listen", "Wait for miners to announce themselves after their IP report button is pressed; returns each IP and MAC heard",
			mcp.Number("seconds", "How long to listen, up to 300 (default 30)"),
		),
		s.handleFleetListen,
	)

	// Bulk operations. An empty ips list targets every known miner.

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_refresh", "Re-read telemetry from miners",
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
		),
		s.handleFleetRefresh,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_reboot", "Reboot miners, or only restart their mining backend",
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
			mcp.String("mode", "reboot (default) or restart-backend"),
		),
		s.handleFleetReboot,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_light", "Switch the fault light of miners",
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
			mcp.String("state", "on, off or toggle (default)"),
		),
		s.handleFleetLight,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_unlock", "Unlock the admin account on Whatsminer devices; other miners are skipped",
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
		),
		s.handleFleetUnlock,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_command", "Run a command on miners and record each reply",
			mcp.String("command", "Command to run", mcp.Required()),
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
		),
		s.handleFleetCommand,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_config_push", "Push a YAML pool/tuning config to miners, then refresh them",
			mcp.String("config", "YAML config document", mcp.Required()),
			mcp.StringArray("ips", "Miner IPs (default: all known)"),
			mcp.String("append_ip", "true to suffix pool users with x<last IP octet>"),
		),
		s.handleFleetConfigPush,
	)
}

// HandleRequest checks the bearer token, if configured, and serves MCP.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.bearerToken)) != 1 {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

func (s *Server) handleFleetList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	if sortBy, _ := req.String("sort"); sortBy != "" {
		if err := s.deps.Fleet.SetSortByName(sortBy); err != nil {
			return nil, mcp.NewToolErrorInvalidParams(err.Error())
		}
	}

	names, _ := req.StringSlice("columns")
	cols, err := parseColumns(names)
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams(err.Error())
	}

	if s.deps.Fleet.Len() == 0 {
		return mcp.NewToolResponseText("No miners known. Run fleet_scan first."), nil
	}

	headers, rows := s.deps.Fleet.Table(cols)
	return mcp.NewToolResponseText(formatTable(headers, rows) + "\n" + formatRollups(s.deps.Fleet.Rollups())), nil
}

func (s *Server) handleFleetRollups(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	return mcp.NewToolResponseText(formatRollups(s.deps.Fleet.Rollups())), nil
}

func (s *Server) handleFleetErrors(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	rows := s.deps.Fleet.Errors()
	if len(rows) == 0 {
		return mcp.NewToolResponseText("No miner errors reported."), nil
	}
	var b strings.Builder
	for _, e := range rows {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", e.IP, e.Code, e.Message)
	}
	return mcp.NewToolResponseText(b.String()), nil
}

func (s *Server) handleFleetScan(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	network := req.StringOr("network", s.deps.DefaultNetwork)

	scan, err := s.deps.Session.Start(s.ctx, network)
	if err != nil {
		log.Warn("MCP scan start failed", "network", network, "error", err)
		return nil, toolError(err)
	}

	log.Info("MCP scan started", "scan_id", scan.ID, "network", scan.Network)
	return mcp.NewToolResponseText(fmt.Sprintf("Scan started: %s (%d hosts, ID: %s)", scan.Network, scan.TotalHosts, scan.ID)), nil
}

func (s *Server) handleFleetScanCancel(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	if !s.deps.Session.Cancel() {
		return mcp.NewToolResponseText("No scan is running."), nil
	}
	return mcp.NewToolResponseText("Scan cancelling; results found so far are kept."), nil
}

func (s *Server) handleFleetListen(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	d := time.Duration(req.IntOr("seconds", 30)) * time.Second
	if d <= 0 || d > maxListen {
		return nil, mcp.NewToolErrorInvalidParams(fmt.Sprintf("seconds must be between 1 and %d", int(maxListen.Seconds())))
	}

	reports, err := listener.Collect(ctx, s.deps.Listen, d)
	if err != nil {
		return nil, mcp.NewToolErrorInternal(err.Error())
	}
	if len(reports) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No miner reported its IP within %s.", d)), nil
	}
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "IP: %s, MAC: %s\n", r.IP, r.MAC)
	}
	return mcp.NewToolResponseText(b.String()), nil
}

func (s *Server) handleFleetRefresh(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	ips, _ := req.StringSlice("ips")
	return operationResponse(s.deps.Dispatcher.Refresh(ctx, ips))
}

func (s *Server) handleFleetReboot(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	ips, _ := req.StringSlice("ips")
	switch mode := strings.ToLower(req.StringOr("mode", "reboot")); mode {
	case "reboot":
		return operationResponse(s.deps.Dispatcher.Reboot(ctx, ips))
	case "restart-backend", "restart":
		return operationResponse(s.deps.Dispatcher.RestartBackend(ctx, ips))
	default:
		return nil, mcp.NewToolErrorInvalidParams(fmt.Sprintf("unknown mode %q", mode))
	}
}

func (s *Server) handleFleetLight(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	ips, _ := req.StringSlice("ips")
	on, toggle, err := lightState(req.StringOr("state", "toggle"))
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams(err.Error())
	}
	if toggle {
		return operationResponse(s.deps.Dispatcher.ToggleLight(ctx, ips))
	}
	return operationResponse(s.deps.Dispatcher.SetLight(ctx, ips, on))
}

func (s *Server) handleFleetUnlock(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	ips, _ := req.StringSlice("ips")
	return operationResponse(s.deps.Dispatcher.Unlock(ctx, ips))
}

func (s *Server) handleFleetCommand(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	command, err := req.String("command")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("command is required: " + err.Error())
	}
	ips, _ := req.StringSlice("ips")
	return operationResponse(s.deps.Dispatcher.SendCommand(ctx, ips, command))
}

func (s *Server) handleFleetConfigPush(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	text, err := req.String("config")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("config is required: " + err.Error())
	}
	ips, _ := req.StringSlice("ips")
	appendIP := strings.EqualFold(req.StringOr("append_ip", "false"), "true")
	return operationResponse(s.deps.Dispatcher.PushConfig(ctx, ips, text, appendIP))
}

// GetHTTPHandler returns the HTTP handler for MCP requests
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", serverVersion)
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}

func operationResponse(op interface{ Summary() string }, err error) (*mcp.ToolResponse, error) {
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResponseText(op.Summary()), nil
}

// toolError maps caller mistakes to invalid params and everything else to
// internal errors.
func toolError(err error) error {
	if isCallerError(err) {
		return mcp.NewToolErrorInvalidParams(err.Error())
	}
	return mcp.NewToolErrorInternal(err.Error())
}
