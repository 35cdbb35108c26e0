package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rinnai-bridge/internal/bridges/rinnai"
	"github.com/nerrad567/rinnai-bridge/internal/device"
)

// deviceView is the API representation of a device: its published state
// plus lifecycle fields.
type deviceView struct {
	rinnai.StateMessage
	State     device.State `json:"state"`
	ThingName string       `json:"thing_name"`
}

func (s *Server) view(rec device.Record) deviceView {
	return deviceView{
		StateMessage: rinnai.NewStateMessage(rec, s.pref),
		State:        rec.State,
		ThingName:    rec.Attributes.ThingName,
	}
}

// handleListDevices returns all devices ordered by name.
//
// Query parameters:
//   - state: filter by lifecycle state (restored, active)
//   - running: "true" or "false" to filter by burner activity
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	stateFilter := device.State(r.URL.Query().Get("state"))
	runningFilter := r.URL.Query().Get("running")
	if runningFilter != "" && runningFilter != "true" && runningFilter != "false" {
		writeBadRequest(w, "running must be true or false")
		return
	}

	records := s.registry.List()
	devices := make([]deviceView, 0, len(records))
	for _, rec := range records {
		if stateFilter != "" && rec.State != stateFilter {
			continue
		}
		if runningFilter != "" && rec.IsRunning != (runningFilter == "true") {
			continue
		}
		devices = append(devices, s.view(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, s.view(rec))
}

// handleSetTemperature changes the setpoint.
//
//	PUT /api/v1/devices/{id}/temperature  {"temperature": 48.5}
//
// The temperature is °C. The response carries the optimistic state; a
// failed cloud call is still reported as an error.
func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Temperature *float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Temperature == nil {
		writeBadRequest(w, "temperature is required")
		return
	}

	rec, err := s.commands.RequestTemperatureChange(r.Context(), id, *req.Temperature)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.view(rec))
}

// handleSetRecirculation turns recirculation on or off.
//
//	PUT /api/v1/devices/{id}/recirculation  {"enabled": true}
func (s *Server) handleSetRecirculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.commands.SetRecirculation(r.Context(), id, *req.Enabled); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"enabled":   *req.Enabled,
		"status":    "accepted",
	})
}

// handleRefreshMaintenance queues a maintenance refresh behind the device's
// throttle and returns without waiting for it.
func (s *Server) handleRefreshMaintenance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.Get(id); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	s.commands.RefreshMaintenance(id)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"status":    "queued",
	})
}
