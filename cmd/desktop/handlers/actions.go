package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/offline"
	"github.com/kimhsiao/fieldcount/backend/internal/uuid"
)

// ActionService executes requests through the offline layer.
type ActionService interface {
	ExecuteAction(ctx context.Context, endpoint string, req offline.Request) (*offline.Result, error)
	PendingActions(ctx context.Context) ([]*models.PendingAction, error)
}

// WSActionBroadcaster notifies clients about queued writes.
type WSActionBroadcaster interface {
	BroadcastActionQueued(id models.UUID, endpoint string)
}

// ActionHandler handles action execution and the pending queue.
type ActionHandler struct {
	svc   ActionService
	wsHub WSActionBroadcaster
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(svc ActionService) *ActionHandler {
	return &ActionHandler{svc: svc}
}

// SetWebSocketHub sets the hub notified when a write is queued.
func (h *ActionHandler) SetWebSocketHub(wsHub WSActionBroadcaster) {
	h.wsHub = wsHub
}

type executeRequest struct {
	Endpoint string `json:"endpoint"`
	offline.Request
}

// Execute handles POST /api/actions
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		badRequest(w, "endpoint is required")
		return
	}

	res, err := h.svc.ExecuteAction(r.Context(), req.Endpoint, req.Request)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
		if h.wsHub != nil {
			h.wsHub.BroadcastActionQueued(res.ActionID, req.Endpoint)
		}
	}
	writeJSON(w, status, res)
}

// ListPending handles GET /api/pending
func (h *ActionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actions, err := h.svc.PendingActions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if actions == nil {
		actions = []*models.PendingAction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(actions),
		"actions": actions,
	})
}

// GetPending handles GET /api/pending/{id}
func (h *ActionHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	if err := uuid.Validate(raw); err != nil {
		badRequest(w, err.Error())
		return
	}
	id := models.UUID(raw)

	actions, err := h.svc.PendingActions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range actions {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, apperrors.New(apperrors.ErrNotFound, "no pending action "+raw))
}
