package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/scanner"
	"github.com/martinsuchenak/asicfleet/internal/session"
	"github.com/martinsuchenak/asicfleet/internal/storage"
	"github.com/martinsuchenak/asicfleet/internal/worker"
)

type scanResponse struct {
	State session.State `json:"state"`
	Scan  *model.Scan   `json:"scan,omitempty"`
}

// getScan handles GET /api/scan
func (h *Handler) getScan(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, scanResponse{State: h.session.State(), Scan: h.session.Current()})
}

// startScan handles POST /api/scan
func (h *Handler) startScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Network == "" {
		req.Network = h.defaultNetwork
	}

	scan, err := h.session.Start(h.ctx, req.Network)
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrInvalidNetwork):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrScanInProgress), errors.Is(err, worker.ErrBusy):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	default:
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, scanResponse{State: h.session.State(), Scan: scan})
}

// cancelScan handles DELETE /api/scan
func (h *Handler) cancelScan(w http.ResponseWriter, r *http.Request) {
	if !h.session.Cancel() {
		h.writeError(w, http.StatusConflict, "no scan is running")
		return
	}
	h.writeJSON(w, http.StatusAccepted, scanResponse{State: h.session.State(), Scan: h.session.Current()})
}

// listScans handles GET /api/scans
func (h *Handler) listScans(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}
	scans, err := h.history.ListScans(limit(r))
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scans)
}

// getHistoricScan handles GET /api/scans/{id}
func (h *Handler) getHistoricScan(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}
	scan, err := h.history.GetScan(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrScanNotFound) {
			h.writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scan)
}
