// Package httputil provides small response helpers shared by every HTTP
// handler: JSON encoding and apierr.Kind-to-status-code mapping.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jcom-dev/vlnbench/internal/apierr"
)

// RespondJSON writes v as a JSON body with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// errorResponse is the {kind, message} envelope errors are serialized as.
type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RespondError maps err's apierr.Kind to an HTTP status and writes the
// standard error envelope.
func RespondError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		slog.Error("request failed", "kind", kind, "error", err)
	}
	RespondJSON(w, status, errorResponse{
		Error:   string(kind),
		Kind:    string(kind),
		Message: apierr.Message(err),
	})
}

func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.InvalidState, apierr.InvalidArgument:
		return http.StatusBadRequest
	case apierr.OutsideGeofence:
		return http.StatusForbidden
	case apierr.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
