// Package handlers provides REST API handlers for sessions and sync operations.
package handlers

import (
	"net/http"

	"github.com/kimhsiao/fitsync/backend/internal/app"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
)

// WSSyncBroadcaster receives status changes made over HTTP.
type WSSyncBroadcaster interface {
	BroadcastStatus(status app.Status)
}

// SyncHandler handles sessions, connectivity and sync operations.
type SyncHandler struct {
	core  *app.App
	wsHub WSSyncBroadcaster
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(core *app.App) *SyncHandler {
	return &SyncHandler{core: core}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting status changes.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// Register adds the session and sync routes to mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.SignIn)
	mux.HandleFunc("DELETE /api/session", h.SignOut)
	mux.HandleFunc("GET /api/sync/status", h.GetStatus)
	mux.HandleFunc("POST /api/sync/now", h.TriggerSync)
	mux.HandleFunc("POST /api/sync/drain", h.Drain)
	mux.HandleFunc("PUT /api/sync/online", h.SetOnline)
}

func (h *SyncHandler) broadcast(r *http.Request) {
	if h.wsHub != nil {
		h.wsHub.BroadcastStatus(h.core.Status(r.Context()))
	}
}

// SignIn handles POST /api/session
func (h *SyncHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.SignIn(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	h.broadcast(r)
	writeJSON(w, http.StatusOK, h.core.Status(r.Context()))
}

// SignOut handles DELETE /api/session
func (h *SyncHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.core.SignOut()
	h.broadcast(r)
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Status(r.Context()))
}

// TriggerSync handles POST /api/sync/now and waits for the result.
// Progress is pushed over the WebSocket as sync events.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	results, err := h.core.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Drain handles POST /api/sync/drain
func (h *SyncHandler) Drain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Drain(r.Context()))
}

// SetOnline handles PUT /api/sync/online. It lets the shell report OS
// connectivity changes.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "online is required"))
		return
	}
	h.core.SetOnline(r.Context(), *req.Online)
	h.broadcast(r)
	writeJSON(w, http.StatusOK, h.core.Status(r.Context()))
}
