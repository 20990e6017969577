package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// envelope is the standard API response wrapper.
// All JSON responses use this format: { "data": ..., "error": ..., "code": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeCodedError(w, status, "", msg)
}

func writeCodedError(w http.ResponseWriter, status int, code voip.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg, Code: string(code)}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// statusForCode maps a command failure code to its HTTP status.
func statusForCode(code voip.Code) int {
	switch code {
	case voip.CodeConflict, voip.CodeNoActiveCall:
		return http.StatusConflict
	case voip.CodeInvalidAddress:
		return http.StatusUnprocessableEntity
	case voip.CodeDeviceNotFound:
		return http.StatusNotFound
	case voip.CodeEngineRejected:
		return http.StatusBadGateway
	case voip.CodeNoAccount, voip.CodeNoDomain:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// writeCommandError renders a command failure. Structured errors keep their
// code; service shutdown and request cancellation get their own statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	if code := voip.CodeOf(err); code != "" {
		writeCodedError(w, statusForCode(code), code, err.Error())
		return
	}
	switch {
	case errors.Is(err, voip.ErrServiceStopped):
		writeError(w, http.StatusServiceUnavailable, "service stopped")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "command timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
