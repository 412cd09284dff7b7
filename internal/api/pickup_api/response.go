package pickup_api

import (
	"encoding/json"
	"net/http"

	"github.com/BearBump/PickupBox/internal/auth"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/services/tracking"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: message, Code: code})
}

// writeErr maps a service error onto its HTTP status.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			writeError(w, status, code, "internal error")
			return
		}
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest, "INVALID_TRANSITION"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, models.ErrNoAvailableCollector):
		return http.StatusUnprocessableEntity, "NO_AVAILABLE_COLLECTOR"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "AUTH"
	case errors.Is(err, tracking.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMIT"
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// decode reads a JSON body into dst; any failure is a validation error.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return models.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
