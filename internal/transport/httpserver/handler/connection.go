package handler

import (
	"errors"
	"net/http"
	"time"

	connectiondomain "steptrack-go/internal/domain/connection"
	"steptrack-go/internal/transport/httpserver/middleware"
)

type connectRequest struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	TokenExpiresAt string `json:"token_expires_at"`
}

func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	status, err := h.Connection.Status(r.Context(), user.ID)
	if err != nil {
		h.log.InternalError("connection: status failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	input := connectiondomain.ConnectInput{
		UserID:       user.ID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if req.TokenExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.TokenExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid token_expires_at")
			return
		}
		input.TokenExpiresAt = &expiresAt
	}

	if err := h.Connection.Connect(r.Context(), input); err != nil {
		if errors.Is(err, connectiondomain.ErrAccessTokenRequired) {
			writeError(w, http.StatusBadRequest, "invalid_request", "access token is required")
			return
		}
		h.log.InternalError("connection: connect failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	status, err := h.Connection.Status(r.Context(), user.ID)
	if err != nil {
		h.log.InternalError("connection: status failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	if err := h.Connection.Disconnect(r.Context(), user.ID); err != nil {
		h.log.InternalError("connection: disconnect failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
