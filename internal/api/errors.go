package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/momcore/internal/auth"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/session"
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
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeTimeout        = "timeout"
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

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps a session error to its HTTP status.
func writeSessionError(w http.ResponseWriter, err error) {
	status, code := sessionErrorStatus(err)
	writeError(w, status, code, err.Error())
}

func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrInvalidName),
		errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, session.ErrUnknownUser),
		errors.Is(err, session.ErrUnknownTopic):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, session.ErrAlreadyExists),
		errors.Is(err, session.ErrLoggedIn):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, session.ErrWrongRole),
		errors.Is(err, auth.ErrRejected):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, auth.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
