// Package httpjson writes the {result, ...} response envelope used by every endpoint.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
)

// Fields are merged into a successful envelope next to "result": 1.
type Fields map[string]any

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes {"result": 1, ...fields}.
func OK(w http.ResponseWriter, status int, fields Fields) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["result"] = 1
	WriteJSON(w, status, out)
}

// Fail writes {"result": 0, "reason": reason}.
func Fail(w http.ResponseWriter, status int, reason string) {
	WriteJSON(w, status, map[string]any{"result": 0, "reason": reason})
}

// WriteError maps err onto a status code and a failure envelope. Errors outside
// the taxonomy become a 500 with a generic reason so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	status, reason := Status(err)
	Fail(w, status, reason)
}

// Status returns the HTTP status and the client-facing reason for err.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrTokenExpired):
		return http.StatusUnauthorized, apperr.ErrTokenExpired.Error()
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, apperr.ErrUnauthenticated.Error()
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden, apperr.ErrPermissionDenied.Error()
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrAlreadyExists),
		errors.Is(err, apperr.ErrInvalidInput):
		return statusOf(err), err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// Decode reads a JSON body of at most 1MB into v.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}
