package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/services"
)

// FoodHandler handles meal log operations.
type FoodHandler struct {
	svc     *services.FoodLogService
	session Session
	loc     *time.Location
	now     func() time.Time
}

// NewFoodHandler creates a new FoodHandler. Summary dates are read in loc.
func NewFoodHandler(svc *services.FoodLogService, session Session, loc *time.Location) *FoodHandler {
	if loc == nil {
		loc = time.Local
	}
	return &FoodHandler{svc: svc, session: session, loc: loc, now: time.Now}
}

// Register adds the food routes to mux.
func (h *FoodHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/food", h.List)
	mux.HandleFunc("POST /api/food", h.Create)
	mux.HandleFunc("GET /api/food/history", h.History)
	mux.HandleFunc("GET /api/food/undo-config", h.GetUndoConfig)
	mux.HandleFunc("PUT /api/food/undo-config", h.SetUndoConfig)
	mux.HandleFunc("GET /api/food/summary/daily", h.DailySummary)
	mux.HandleFunc("GET /api/food/summary/weekly", h.WeeklySummary)
	mux.HandleFunc("POST /api/food/undo", h.Undo)
	mux.HandleFunc("POST /api/food/batch-delete", h.RemoveBatch)
	mux.HandleFunc("POST /api/food/batch-undo", h.UndoBatch)
	mux.HandleFunc("POST /api/food/refresh", h.Refresh)
	mux.HandleFunc("GET /api/food/{id}", h.Get)
	mux.HandleFunc("PUT /api/food/{id}", h.Update)
	mux.HandleFunc("DELETE /api/food/{id}", h.Remove)
}

// foodRequest is the body of create and update.
type foodRequest struct {
	models.MealPayload
	Timestamp int64 `json:"timestamp,omitempty"`
}

// List handles GET /api/food?page=&page_size=
func (h *FoodHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	page := h.svc.List(r.Context(), userID,
		queryInt(r, "page", 1), queryInt(r, "page_size", services.DefaultPageSize))
	writeJSON(w, http.StatusOK, page)
}

// Get handles GET /api/food/{id}
func (h *FoodHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create handles POST /api/food
func (h *FoodHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var req foodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.Add(r.Context(), userID, &req.MealPayload, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Update handles PUT /api/food/{id}
func (h *FoodHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var req foodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.svc.Update(r.Context(), userID, r.PathValue("id"), &req.MealPayload, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Remove handles DELETE /api/food/{id}. The response is the undo token.
func (h *FoodHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	item, err := h.svc.Remove(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Undo handles POST /api/food/undo with a removed item as body.
func (h *FoodHandler) Undo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var item models.RemovedItem
	if err := decodeBody(r, &item); err != nil {
		writeError(w, err)
		return
	}
	if item.Record == nil || item.Record.UserID != userID {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "nothing to undo"))
		return
	}
	rec, err := h.svc.UndoRemove(r.Context(), &item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RemoveBatch handles POST /api/food/batch-delete
func (h *FoodHandler) RemoveBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	batch, err := h.svc.RemoveBatch(r.Context(), userID, req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// UndoBatch handles POST /api/food/batch-undo with a batch removal as body.
func (h *FoodHandler) UndoBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	var batch models.BatchRemoval
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, err)
		return
	}
	for _, item := range batch.Items {
		if item == nil || item.Record == nil || item.Record.UserID != userID {
			writeError(w, apperrors.New(apperrors.ErrInvalid, "nothing to undo"))
			return
		}
	}
	restored, err := h.svc.UndoBatchRemove(r.Context(), &batch)
	if err != nil && len(restored) == 0 {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"restored": restored}
	if err != nil {
		resp["error"] = apperrors.CodeOf(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/food/history
func (h *FoodHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.svc.History(userID)})
}

// GetUndoConfig handles GET /api/food/undo-config
func (h *FoodHandler) GetUndoConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.UndoConfig())
}

// SetUndoConfig handles PUT /api/food/undo-config
func (h *FoodHandler) SetUndoConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.UndoConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SetUndoConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// DailySummary handles GET /api/food/summary/daily?date=YYYY-MM-DD
func (h *FoodHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	day, err := queryDay(r, "date", h.loc, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.svc.DailySummary(r.Context(), userID, day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// WeeklySummary handles GET /api/food/summary/weekly?date=YYYY-MM-DD
func (h *FoodHandler) WeeklySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	day, err := queryDay(r, "date", h.loc, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.svc.WeeklySummary(r.Context(), userID, day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Refresh handles POST /api/food/refresh
func (h *FoodHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.session)
	if !ok {
		return
	}
	result, err := h.svc.Refresh(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
