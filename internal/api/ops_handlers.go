package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/martinsuchenak/asicfleet/internal/dispatch"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/internal/storage"
	"github.com/martinsuchenak/asicfleet/internal/worker"
	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

// OperationRequest is the body of POST /api/ops/{kind}. Empty IPs target
// every known device.
type OperationRequest struct {
	IPs      []string `json:"ips,omitempty"`
	Command  string   `json:"command,omitempty"`
	Config   string   `json:"config,omitempty"`
	AppendIP bool     `json:"append_ip,omitempty"`
	// On sets the fault light explicitly; nil toggles it.
	On *bool `json:"on,omitempty"`
}

// runOperation handles POST /api/ops/{kind}. The operation runs to
// completion within the request.
func (h *Handler) runOperation(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var op *model.Operation
	var err error

	switch model.OperationKind(r.PathValue("kind")) {
	case model.OpRefresh:
		op, err = h.dispatcher.Refresh(ctx, req.IPs)
	case model.OpReboot:
		op, err = h.dispatcher.Reboot(ctx, req.IPs)
	case model.OpRestartBackend:
		op, err = h.dispatcher.RestartBackend(ctx, req.IPs)
	case model.OpLight:
		if req.On != nil {
			op, err = h.dispatcher.SetLight(ctx, req.IPs, *req.On)
		} else {
			op, err = h.dispatcher.ToggleLight(ctx, req.IPs)
		}
	case model.OpUnlock:
		op, err = h.dispatcher.Unlock(ctx, req.IPs)
	case model.OpCommand:
		op, err = h.dispatcher.SendCommand(ctx, req.IPs, req.Command)
	case model.OpConfig:
		op, err = h.dispatcher.PushConfig(ctx, req.IPs, req.Config, req.AppendIP)
	default:
		h.writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, minerconfig.ErrParse), errors.Is(err, dispatch.ErrEmptyCommand):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, worker.ErrBusy):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	default:
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, op)
}

// listOperations handles GET /api/ops
func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}
	ops, err := h.history.ListOperations(limit(r))
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ops)
}

// getOperation handles GET /api/ops/{id}
func (h *Handler) getOperation(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotImplemented, "history is disabled")
		return
	}
	op, err := h.history.GetOperation(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			h.writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}
