package http

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"practice-progress-service/internal/domain"
)

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{
		Code:      code,
		Message:   message,
		RequestID: chimiddleware.GetReqID(r.Context()),
	}})
}

// handleServiceError maps service errors onto the JSON error envelope.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	writeError(w, r, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable, "BUSY", "Progress is being updated, try again"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process progress request"
	}
}
