package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/sync/scheduler"
)

// SyncService drains the action log on demand.
type SyncService interface {
	SyncNow(ctx context.Context) (*models.SyncReport, error)
}

// StatusSource reports the background sync state.
type StatusSource interface {
	GetStatus(ctx context.Context) scheduler.SchedulerStatus
}

// WSSyncBroadcaster interface for sync WebSocket events.
// Completed drains are broadcast from the report subscription, which also covers background drains.
type WSSyncBroadcaster interface {
	BroadcastSyncStarted(trigger string)
	BroadcastSyncFailed(errorCode string, retryable bool)
}

// SyncHandler handles sync operations.
type SyncHandler struct {
	svc    SyncService
	status StatusSource
	wsHub  WSSyncBroadcaster
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc SyncService, status StatusSource) *SyncHandler {
	return &SyncHandler{svc: svc, status: status}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.GetStatus(r.Context()))
}

// TriggerSync handles POST /api/sync
// Drains the action log and responds with the report.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncStarted("manual")
	}

	report, err := h.svc.SyncNow(r.Context())
	if err != nil {
		if h.wsHub != nil {
			code := apperrors.CodeOf(err)
			h.wsHub.BroadcastSyncFailed(string(code), code == apperrors.ErrDrainInProgress)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"succeeded":   report.Succeeded,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"duration_ms": report.Duration().Milliseconds(),
	})
}
