package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-shop/pkg/gateway/sessions"
)

type SessionsHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Manager
	Logger    *slog.Logger
}

type sessionResponse struct {
	Object   string `json:"object"`
	ID       string `json:"id"`
	Currency string `json:"currency"`
	LiveURL  string `json:"live_url"`
}

// Create serves POST /v1/sessions.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, drainingError())
		return
	}
	id, err := h.Sessions.Create(ownerKey(r, h.Config))
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("session created", "session_id", id, "request_id", requestIDFromContext(r.Context()))
	}
	w.Header().Set("X-Shop-Session", id)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Object:   "session",
		ID:       id,
		Currency: h.Config.Currency,
		LiveURL:  "/v1/sessions/" + id + "/live",
	})
}

// Delete serves DELETE /v1/sessions/{id}.
func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Sessions.Delete(id, ownerKey(r, h.Config)); err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("session ended", "session_id", id, "request_id", requestIDFromContext(r.Context()))
	}
	w.WriteHeader(http.StatusNoContent)
}
