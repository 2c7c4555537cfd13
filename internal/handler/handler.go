// Package handler contains HTTP request handlers for the crowd operations API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
	"github.com/Kunalrpawar/crowd-management-sub001/internal/service"
)

const maxBodyBytes = 1 << 20

// Broadcaster forwards core events to the live-update channel.
type Broadcaster interface {
	Publish(ctx context.Context, event any) error
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps service errors to HTTP responses:
//
//	ErrValidation                          → 400
//	ErrNotFound                            → 404
//	ErrAlreadyResolved, ErrAlreadyAssigned,
//	ErrCascadeConflict                     → 409
//	anything else                          → 500 (logged)
func writeError(w http.ResponseWriter, logger zerolog.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, service.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_resolved", Message: err.Error()})
	case errors.Is(err, service.ErrAlreadyAssigned):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_assigned", Message: err.Error()})
	case errors.Is(err, service.ErrCascadeConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "cascade_conflict", Message: err.Error()})
	default:
		logger.Error().Err(err).Str("op", op).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

// decodeJSON reads a size-limited JSON body into v. It writes the 400
// response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// publish forwards an event. Broadcast failures never fail the request.
func publish(ctx context.Context, pub Broadcaster, logger zerolog.Logger, ev service.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("broadcast failed")
	}
}

// ─── Query helpers ──────────────────────────────────────────

// queryLocation reads ?lat=&lon=. Both are required.
func queryLocation(r *http.Request) (model.Location, bool) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		return model.Location{}, false
	}
	return model.Location{Lat: lat, Lon: lon}, true
}

// queryInt reads an optional non-negative integer parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// queryFloat reads an optional non-negative float parameter.
func queryFloat(r *http.Request, key string, def float64) (float64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}
