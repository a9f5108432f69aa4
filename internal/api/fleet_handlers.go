package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/martinsuchenak/asicfleet/internal/fleet"
	"github.com/martinsuchenak/asicfleet/internal/model"
	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

type sortState struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

type fleetResponse struct {
	Devices []model.Record `json:"devices"`
	Rollups fleet.Rollups  `json:"rollups"`
	Sort    sortState      `json:"sort"`
}

type rollupsResponse struct {
	fleet.Rollups
	CountText    string `json:"count_text"`
	HashrateText string `json:"hashrate_text"`
	WattageText  string `json:"wattage_text"`
}

func (h *Handler) sortState() sortState {
	col, desc := h.fleet.Sort()
	return sortState{Column: col.String(), Descending: desc}
}

// listFleet handles GET /api/fleet
func (h *Handler) listFleet(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, fleetResponse{
		Devices: h.fleet.Snapshot(),
		Rollups: h.fleet.Rollups(),
		Sort:    h.sortState(),
	})
}

// getDevice handles GET /api/fleet/{ip}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.fleet.Get(r.PathValue("ip"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// getRollups handles GET /api/fleet/rollups
func (h *Handler) getRollups(w http.ResponseWriter, r *http.Request) {
	roll := h.fleet.Rollups()
	h.writeJSON(w, http.StatusOK, rollupsResponse{
		Rollups:      roll,
		CountText:    fleet.FormatCount(roll),
		HashrateText: fleet.FormatHashrate(roll),
		WattageText:  fleet.FormatWattage(roll),
	})
}

// listErrors handles GET /api/fleet/errors
func (h *Handler) listErrors(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.fleet.Errors())
}

// boardReport handles GET /api/fleet/boards?ideal=0.9
func (h *Handler) boardReport(w http.ResponseWriter, r *http.Request) {
	ideal := 0.0
	if v := r.URL.Query().Get("ideal"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			h.writeError(w, http.StatusBadRequest, "ideal must be a ratio between 0 and 1")
			return
		}
		ideal = f
	}
	h.writeJSON(w, http.StatusOK, h.fleet.BoardReport(ideal))
}

// setSort handles POST /api/fleet/sort
func (h *Handler) setSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.fleet.SetSortByName(req.Column); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.sortState())
}

// importConfig handles GET /api/fleet/{ip}/config
func (h *Handler) importConfig(w http.ResponseWriter, r *http.Request) {
	text, err := h.dispatcher.ImportConfig(r.Context(), r.PathValue("ip"))
	switch {
	case err == nil:
	case errors.Is(err, miner.ErrUnsupported):
		h.writeError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, miner.ErrUnreachable), errors.Is(err, miner.ErrProtocol):
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		h.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}
