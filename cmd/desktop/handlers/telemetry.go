package handlers

import (
	"encoding/json"
	"net/http"
)

// TelemetrySwitch is the user's metrics opt-in.
type TelemetrySwitch interface {
	IsEnabled() bool
	Enable()
	Disable()
}

// TelemetryHandler reads and changes the metrics opt-in.
type TelemetryHandler struct {
	sw TelemetrySwitch
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(sw TelemetrySwitch) *TelemetryHandler {
	return &TelemetryHandler{sw: sw}
}

// Get handles GET /api/telemetry
func (h *TelemetryHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.sw.IsEnabled()})
}

// Set handles PUT /api/telemetry
func (h *TelemetryHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		badRequest(w, "enabled is required")
		return
	}
	if *req.Enabled {
		h.sw.Enable()
	} else {
		h.sw.Disable()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.sw.IsEnabled()})
}
