// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielhkuo/doorlist/checkin"
	"github.com/danielhkuo/doorlist/middleware"
	"github.com/danielhkuo/doorlist/models"
)

type CheckInProcessor interface {
	Process(ctx context.Context, staffID string, action models.CheckInAction) (models.TransitionResult, error)
}

type CheckInHandler struct {
	processor CheckInProcessor
}

func NewCheckInHandler(processor CheckInProcessor) *CheckInHandler {
	return &CheckInHandler{processor: processor}
}

// Submit handles POST /checkins
// COMMITTED and DUPLICATE answer 200, REJECTED answers 422
func (h *CheckInHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var action models.CheckInAction
	if err := middleware.ParseJSONBody(r, &action); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	// Sync state is device-local
	action.SyncState = ""

	result, err := h.processor.Process(r.Context(), middleware.StaffID(r.Context()), action)
	if errors.Is(err, checkin.ErrInvalidAction) {
		msg := strings.TrimPrefix(err.Error(), checkin.ErrInvalidAction.Error()+": ")
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	if err != nil {
		// Logged by the processor; storage detail never leaves the server
		middleware.ErrorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if result.Outcome == models.OutcomeRejected {
		status = http.StatusUnprocessableEntity
	}
	middleware.JSONResponse(w, status, result)
}
