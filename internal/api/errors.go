package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/rinnai-bridge/internal/bridges/rinnai"
	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/throttle"
	"github.com/nerrad567/rinnai-bridge/internal/units"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeCloudAuth      = "cloud_auth_failed"
	ErrCodeCloudError     = "cloud_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeEmptyDeviceSet = "no_devices"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a command or poll failure to a response.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rinnai.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, units.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, rinnai.ErrTemperatureControlDisabled),
		errors.Is(err, rinnai.ErrRecirculationUnsupported):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, rinnai.ErrEmptyDeviceSet):
		writeError(w, http.StatusBadGateway, ErrCodeEmptyDeviceSet, "cloud returned no devices")
	case errors.Is(err, cloud.ErrAuthentication), errors.Is(err, cloud.ErrNotSignedIn):
		writeError(w, http.StatusBadGateway, ErrCodeCloudAuth, err.Error())
	case errors.Is(err, cloud.ErrCommandRejected),
		errors.Is(err, cloud.ErrCommandNetwork),
		errors.Is(err, cloud.ErrTransport),
		errors.Is(err, cloud.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, ErrCodeCloudError, err.Error())
	case errors.Is(err, throttle.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is stopping")
	default:
		writeInternalError(w, err.Error())
	}
}
