package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/services"
)

// WeightHandler handles weight log operations.
type WeightHandler struct {
	svc     *services.WeightLogService
	session Session
	loc     *time.Location
}

// NewWeightHandler creates a new WeightHandler.
func NewWeightHandler(svc *services.WeightLogService, session Session, loc *time.Location) *WeightHandler {
	if loc == nil {
		loc = time.Local
	}
	return &WeightHandler{svc: svc, session: session, loc: loc}
}

// Register adds the weight routes to mux.
func (h *WeightHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/weight", h.List)
	mux.HandleFunc("POST /api/weight", h.Create)
	mux.HandleFunc("GET /api/weight/stats", h.Stats)
	mux.HandleFunc("GET /api/weight/range", h.Range)
	mux.HandleFunc("GET /api/weight/goal", h.GetGoal)
	mux.HandleFunc("PUT /api/weight/goal", h.SetGoal)
	mux.HandleFunc("DELETE /api/weight/{id}", h.Remove)
}

// List handles GET /api/weight?limit=
func (h *WeightHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	items := h.svc.List(r.Context(), userID, queryInt(r, "limit", 0))
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// Create handles POST /api/weight
func (h *WeightHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var req struct {
		models.WeightPayload
		Timestamp int64 `json:"timestamp,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.Add(r.Context(), userID, &req.WeightPayload, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Remove handles DELETE /api/weight/{id}
func (h *WeightHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	if err := h.svc.Remove(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/weight/stats
func (h *WeightHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	stats, err := h.svc.GetStats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Range handles GET /api/weight/range?start=YYYY-MM-DD&end=YYYY-MM-DD.
// Both days are inclusive.
func (h *WeightHandler) Range(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "start and end are required"))
		return
	}
	start, err := queryDay(r, "start", h.loc, time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryDay(r, "end", h.loc, time.Time{})
	if err != nil {
		writeError(w, err)
		return
	}
	if end.Before(start) {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "end is before start"))
		return
	}

	items, err := h.svc.Range(r.Context(), userID, start, end.AddDate(0, 0, 1).Add(-time.Millisecond))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetGoal handles GET /api/weight/goal
func (h *WeightHandler) GetGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	goal, err := h.svc.GetGoal(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if goal == nil {
		writeError(w, apperrors.New(apperrors.ErrNotFound, "no weight goal set"))
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

// SetGoal handles PUT /api/weight/goal
func (h *WeightHandler) SetGoal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var goal models.WeightGoal
	if err := decodeBody(r, &goal); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.svc.SetGoal(r.Context(), userID, goal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
