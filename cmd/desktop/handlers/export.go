package handlers

import (
	"net/http"

	"github.com/kimhsiao/fitsync/backend/internal/app"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/export"
	backup "github.com/kimhsiao/fitsync/backend/internal/export/scheduler"
)

// ExportHandler handles backup export, import and scheduling.
type ExportHandler struct {
	core *app.App
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(core *app.App) *ExportHandler {
	return &ExportHandler{core: core}
}

// Register adds the backup routes to mux.
func (h *ExportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/export", h.Export)
	mux.HandleFunc("POST /api/import", h.Import)
	mux.HandleFunc("GET /api/backups", h.ListBackups)
	mux.HandleFunc("GET /api/backups/config", h.GetConfig)
	mux.HandleFunc("PUT /api/backups/config", h.UpdateConfig)
}

// Export handles POST /api/export
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, h.core); !ok {
		return
	}
	var req export.ExportConfig
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	result, err := h.core.ExportData(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Import handles POST /api/import
func (h *ExportHandler) Import(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, h.core); !ok {
		return
	}
	var req export.ImportConfig
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ArchivePath == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "archivePath is required"))
		return
	}
	result, err := h.core.ImportData(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListBackups handles GET /api/backups
func (h *ExportHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, h.core)
	if !ok {
		return
	}
	archives, err := backup.ListArchives(h.core.Backups.GetConfig().Dir, userID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrDatabase, "failed to list backups", err))
		return
	}
	if archives == nil {
		archives = []*backup.ArchiveInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": archives})
}

// GetConfig handles GET /api/backups/config
func (h *ExportHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Backups.GetConfig())
}

// UpdateConfig handles PUT /api/backups/config. The directory and password
// stay as configured on disk.
func (h *ExportHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interval       backup.ExportInterval `json:"interval"`
		RetentionCount *int                  `json:"retentionCount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	cfg := h.core.Backups.GetConfig()
	if req.Interval != "" {
		cfg.Interval = req.Interval
	}
	if req.RetentionCount != nil {
		cfg.RetentionCount = *req.RetentionCount
	}
	if !cfg.Interval.Valid() {
		writeError(w, apperrors.Newf(apperrors.ErrInvalid, "unknown interval %q", cfg.Interval))
		return
	}
	if err := h.core.Backups.UpdateConfig(cfg); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid backup config", err))
		return
	}
	writeJSON(w, http.StatusOK, h.core.Backups.GetConfig())
}
