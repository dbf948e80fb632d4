package handlers

import (
	"context"
	"encoding/json"
	"net/http"
)

// Scanner drives barcode capture.
type Scanner interface {
	ManualScan(code string) error
	StartScan(ctx context.Context) error
	StopScan()
}

// ScanHandler handles barcode capture. Scan results are delivered over the WebSocket.
type ScanHandler struct {
	scanner Scanner
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(scanner Scanner) *ScanHandler {
	return &ScanHandler{scanner: scanner}
}

// Manual handles POST /api/scan/manual
func (h *ScanHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if err := h.scanner.ManualScan(req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Start handles POST /api/scan/start
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.scanner.StartScan(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

// Stop handles POST /api/scan/stop
func (h *ScanHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.scanner.StopScan()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
