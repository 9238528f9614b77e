package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	connectiondomain "steptrack-go/internal/domain/connection"
	stepsyncdomain "steptrack-go/internal/domain/stepsync"
	"steptrack-go/internal/transport/httpserver/middleware"
)

type syncResponse struct {
	DatesRequested int    `json:"dates_requested"`
	DatesSucceeded int    `json:"dates_succeeded"`
	RateLimitHit   bool   `json:"rate_limit_hit"`
	IsFirstSync    bool   `json:"is_first_sync"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
}

// SyncSteps runs the synchronization engine for the authenticated user.
// Too-frequent requests get 429 with a Retry-After header; a run already in
// flight gets 409.
func (h *Handlers) SyncSteps(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	result, err := h.Sync.Sync(r.Context(), user.ID)
	if err != nil {
		var tooFrequent *stepsyncdomain.TooFrequentError
		switch {
		case errors.As(err, &tooFrequent):
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(tooFrequent.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too_frequent", tooFrequent.Error())
		case errors.Is(err, stepsyncdomain.ErrRunInProgress):
			writeError(w, http.StatusConflict, "sync_in_progress", "a sync run is already in progress")
		case errors.Is(err, connectiondomain.ErrNotConnected):
			writeError(w, http.StatusBadRequest, "not_connected", "step provider is not connected")
		default:
			h.log.InternalError("stepsync: run failed", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		}
		return
	}

	response := syncResponse{
		DatesRequested: result.DatesRequested,
		DatesSucceeded: result.DatesSucceeded,
		RateLimitHit:   result.RateLimitHit,
		IsFirstSync:    result.IsFirstSync,
	}
	if result.From != nil {
		response.From = result.From.Format("2006-01-02")
	}
	if result.To != nil {
		response.To = result.To.Format("2006-01-02")
	}

	writeJSON(w, http.StatusOK, response)
}
