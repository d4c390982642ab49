package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/call"
	"github.com/telecare-labs/callbridge/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db      store.DataStore
	redis   *store.RedisStore
	manager *call.Manager
	history *call.History
	logger  zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil in development mode.
func NewHandler(db store.DataStore, redis *store.RedisStore, manager *call.Manager, history *call.History, logger zerolog.Logger) *Handler {
	return &Handler{db: db, redis: redis, manager: manager, history: history, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Fail sends the polling clients' uniform failure envelope.
func (h *Handler) Fail(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]any{"success": false, "message": message})
}

// errorStatus maps the call error taxonomy onto HTTP status codes. The
// response body keeps the sentinel's message either way.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, call.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, call.ErrConflict), errors.Is(err, call.ErrSessionNotActive), errors.Is(err, call.ErrNoDoctorAssigned):
		return http.StatusConflict
	case errors.Is(err, call.ErrExpired):
		return http.StatusGone
	case errors.Is(err, call.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorClass labels an error for the per-action outcome metric.
func errorClass(err error) string {
	switch {
	case errors.Is(err, call.ErrNotFound):
		return "not_found"
	case errors.Is(err, call.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, call.ErrConflict):
		return "conflict"
	case errors.Is(err, call.ErrExpired):
		return "expired"
	case errors.Is(err, call.ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, call.ErrValidation):
		return "validation"
	case errors.Is(err, call.ErrNoDoctorAssigned):
		return "no_doctor"
	default:
		return "internal"
	}
}
