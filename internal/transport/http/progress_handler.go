package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"practice-progress-service/internal/app"
	"practice-progress-service/internal/domain"
)

const maxBodyBytes = 1 << 16

// ProgressService is what the transport needs from the progress use cases.
type ProgressService interface {
	CompleteSession(ctx context.Context, userID int64, sub domain.SessionSubmission) (app.CompletionResult, error)
	Stats(ctx context.Context, userID int64) (domain.UserStats, error)
}

type ProgressHandler struct {
	service ProgressService
}

func NewProgressHandler(service ProgressService) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// completeRequest uses pointers so a missing or non-numeric field is told apart from zero.
type completeRequest struct {
	Subject        *string `json:"subject"`
	CorrectCount   *int    `json:"correctCount"`
	TotalQuestions *int    `json:"totalQuestions"`
	TimeSpent      *int    `json:"timeSpent"`
}

type completeResponse struct {
	Success      bool                      `json:"success"`
	Score        int                       `json:"score"`
	XPEarned     int                       `json:"xpEarned"`
	Message      string                    `json:"message"`
	Achievements []app.UnlockedAchievement `json:"achievements"`
}

type statsResponse struct {
	Stats domain.UserStats `json:"stats"`
}

func (h *ProgressHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	sub, err := decodeSubmission(body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.CompleteSession(r.Context(), userID, sub)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCompleteResponse(result))
}

func (h *ProgressHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats})
}

func decodeSubmission(data []byte) (domain.SessionSubmission, error) {
	var req completeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.SessionSubmission{}, fmt.Errorf("%w: malformed request body", domain.ErrValidation)
	}
	switch {
	case req.Subject == nil:
		return domain.SessionSubmission{}, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	case req.CorrectCount == nil:
		return domain.SessionSubmission{}, fmt.Errorf("%w: correctCount must be a number", domain.ErrValidation)
	case req.TotalQuestions == nil:
		return domain.SessionSubmission{}, fmt.Errorf("%w: totalQuestions must be a number", domain.ErrValidation)
	}
	sub := domain.SessionSubmission{
		Subject:        *req.Subject,
		CorrectCount:   *req.CorrectCount,
		TotalQuestions: *req.TotalQuestions,
	}
	if req.TimeSpent != nil {
		sub.TimeSpent = *req.TimeSpent
	}
	return sub, nil
}

func newCompleteResponse(result app.CompletionResult) completeResponse {
	unlocked := result.Achievements.Unlocked
	if unlocked == nil {
		unlocked = []app.UnlockedAchievement{}
	}
	msg := fmt.Sprintf("Practice session saved! You earned %d XP", result.XPEarned)
	if n := len(unlocked); n == 1 {
		msg += " and unlocked 1 achievement"
	} else if n > 1 {
		msg += fmt.Sprintf(" and unlocked %d achievements", n)
	}
	return completeResponse{
		Success:      true,
		Score:        result.Score,
		XPEarned:     result.XPEarned,
		Message:      msg,
		Achievements: unlocked,
	}
}
