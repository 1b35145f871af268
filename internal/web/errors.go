package web

// errors.go turns service errors into JSON responses.
//
// The status comes from core.HTTPStatus and the body from core.MapError, so
// typed errors keep their own message while infrastructure errors are
// reduced to a coded, user-facing message. The technical error is only
// logged.

import (
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/logging"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(err error) ErrorResponse {
	msg := core.MapError(err)
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// respondError logs err with the request id and writes the mapped response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	body := newErrorResponse(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", body.Code,
	)

	writeJSONStatus(w, status, body)
}
