// Package handlers provides REST API handlers for the desktop server.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

// Session reports the signed-in user.
type Session interface {
	UserID() string
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// statusOf maps an error code to an HTTP status.
func statusOf(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrSyncBusy:
		return http.StatusConflict
	case apperrors.ErrConnectivity, apperrors.ErrIndexNotReady:
		return http.StatusServiceUnavailable
	case apperrors.ErrSyncTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError writes err with its code. Messages of non-AppErrors stay in
// the log.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	resp := errorResponse{Code: code, Message: "internal error"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
	} else {
		logging.Error("Unhandled request error", err)
	}
	writeJSON(w, statusOf(code), resp)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.New(apperrors.ErrInvalid, "invalid request body")
	}
	return nil
}

// requireUser returns the signed-in user or writes 401.
func requireUser(w http.ResponseWriter, s Session) (string, bool) {
	userID := s.UserID()
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: apperrors.ErrInvalid, Message: "not signed in"})
		return "", false
	}
	return userID, true
}

// queryInt reads an integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

// queryDay parses a YYYY-MM-DD query parameter in loc. Missing means today.
func queryDay(r *http.Request, name string, loc *time.Location, now time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return now.In(loc), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, apperrors.Newf(apperrors.ErrInvalid, "invalid %s: want YYYY-MM-DD", name)
	}
	return day, nil
}
