package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/log"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/martinsuchenak/asicfleet/internal/storage"
	"github.com/martinsuchenak/asicfleet/internal/worker"
)

// Deps are the engine parts served over HTTP.
type Deps struct {
	Fleet      *fleet.State
	Session    *session.Controller
	Dispatcher *dispatch.Dispatcher
	Guard      *worker.Guard
	// History may be nil, in which case the history routes answer 501.
	History        storage.Storage
	DefaultNetwork string
	// Events may be nil; a private hub is created then.
	Events *Hub
}

// Handler handles HTTP requests
type Handler struct {
	// ctx outlives requests; background scans run under it.
	ctx            context.Context
	fleet          *fleet.State
	session        *session.Controller
	dispatcher     *dispatch.Dispatcher
	guard          *worker.Guard
	history        storage.Storage
	defaultNetwork string
	events         *Hub
}

// NewHandler creates a new API handler. Scans started over HTTP are bound
// to ctx rather than to the request that started them.
func NewHandler(ctx context.Context, deps Deps) *Handler {
	events := deps.Events
	if events == nil {
		events = NewHub()
	}
	return &Handler{
		ctx:            ctx,
		fleet:          deps.Fleet,
		session:        deps.Session,
		dispatcher:     deps.Dispatcher,
		guard:          deps.Guard,
		history:        deps.History,
		defaultNetwork: deps.DefaultNetwork,
		events:         events,
	}
}

// Events returns the websocket hub fed by this handler.
func (h *Handler) Events() *Hub { return h.events }

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Fleet
	mux.HandleFunc("GET /api/fleet", h.listFleet)
	mux.HandleFunc("GET /api/fleet/rollups", h.getRollups)
	mux.HandleFunc("GET /api/fleet/errors", h.listErrors)
	mux.HandleFunc("GET /api/fleet/boards", h.boardReport)
	mux.HandleFunc("POST /api/fleet/sort", h.setSort)
	mux.HandleFunc("GET /api/fleet/{ip}", h.getDevice)
	mux.HandleFunc("GET /api/fleet/{ip}/config", h.importConfig)

	// Scanning
	mux.HandleFunc("GET /api/scan", h.getScan)
	mux.HandleFunc("POST /api/scan", h.startScan)
	mux.HandleFunc("DELETE /api/scan", h.cancelScan)
	mux.HandleFunc("GET /api/scans", h.listScans)
	mux.HandleFunc("GET /api/scans/{id}", h.getHistoricScan)

	// Bulk operations
	mux.HandleFunc("POST /api/ops/{kind}", h.runOperation)
	mux.HandleFunc("GET /api/ops", h.listOperations)
	mux.HandleFunc("GET /api/ops/{id}", h.getOperation)

	mux.HandleFunc("GET /api/status", h.getStatus)
	mux.HandleFunc("GET /api/events", h.events.ServeHTTP)
}

// getStatus handles GET /api/status
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"guard":   h.guard.Status(),
		"scan":    h.session.State(),
		"devices": h.fleet.Len(),
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// limit reads the ?limit= query parameter.
func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return storage.DefaultListLimit
	}
	return n
}
