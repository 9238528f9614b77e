package handler

import (
	"errors"
	"net/http"
	"time"

	stepsdomain "steptrack-go/internal/domain/steps"
	"steptrack-go/internal/transport/httpserver/middleware"

	"github.com/go-chi/chi/v5"
)

type dayRecordResponse struct {
	Date   string `json:"date"`
	Steps  int64  `json:"steps"`
	Source string `json:"source"`
}

type dayRecordListResponse struct {
	Items []dayRecordResponse `json:"items"`
	Total int64               `json:"total"`
}

func toDayRecordResponse(record stepsdomain.DayRecord) dayRecordResponse {
	return dayRecordResponse{
		Date:   record.Date.Format("2006-01-02"),
		Steps:  record.Steps,
		Source: string(record.Source),
	}
}

func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	query := r.URL.Query()
	from, err := parseDateParam(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid from date")
		return
	}
	to, err := parseDateParam(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid to date")
		return
	}
	limit, err := parseIntParam(query.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	offset, err := parseIntParam(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid offset")
		return
	}

	records, total, err := h.Steps.ListRange(r.Context(), user.ID, stepsdomain.ListFilter{
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.log.InternalError("steps: list failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	items := make([]dayRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, toDayRecordResponse(record))
	}

	writeJSON(w, http.StatusOK, dayRecordListResponse{Items: items, Total: total})
}

func (h *Handlers) StepsSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	query := r.URL.Query()
	from, err := parseDateParam(query.Get("from"))
	if err != nil || from == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "from date is required")
		return
	}
	to, err := parseDateParam(query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid to date")
		return
	}
	end := time.Now()
	if to != nil {
		end = *to
	}

	summary, err := h.Steps.Summary(r.Context(), user.ID, *from, end)
	if err != nil {
		h.log.InternalError("steps: summary failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type upsertStepsRequest struct {
	Steps int64 `json:"steps"`
}

func (h *Handlers) UpsertManualSteps(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	date, err := parseDateRequired(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid date")
		return
	}

	var req upsertStepsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	record, err := h.Steps.UpsertManual(r.Context(), user.ID, date, req.Steps)
	if err != nil {
		switch {
		case errors.Is(err, stepsdomain.ErrNegativeSteps):
			writeError(w, http.StatusBadRequest, "invalid_request", "steps must not be negative")
		case errors.Is(err, stepsdomain.ErrFutureDate):
			writeError(w, http.StatusBadRequest, "invalid_request", "date must not be in the future")
		default:
			h.log.InternalError("steps: manual upsert failed", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toDayRecordResponse(*record))
}
