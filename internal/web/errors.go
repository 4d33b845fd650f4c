package web

// errors.go turns run errors into JSON responses.
//
// The technical error is logged with the request id; the client receives
// the user-facing message from core.MapError so support codes match what
// the CLI prints.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/JonMunkholm/csvsync/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for a run error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrData), errors.Is(err, core.ErrIntegrity), errors.Is(err, core.ErrNoSourceFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondBadRequest reports an invalid query parameter.
func respondBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	respondError(w, r, &core.ConfigError{Msg: msg})
}
