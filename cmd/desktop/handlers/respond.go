// Package handlers provides REST API handlers for the desktop bridge.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps an application error code onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{Error: string(code), Message: err.Error()})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrNoCachedData:
		return http.StatusNotFound
	case apperrors.ErrDrainInProgress:
		return http.StatusConflict
	case apperrors.ErrNetwork:
		return http.StatusBadGateway
	case apperrors.ErrStorage:
		return http.StatusInsufficientStorage
	case apperrors.ErrDevice:
		return http.StatusServiceUnavailable
	case apperrors.ErrCaptureUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: string(apperrors.ErrInvalid), Message: message})
}
