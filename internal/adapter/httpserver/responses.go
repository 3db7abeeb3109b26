// Package httpserver contains the HTTP handlers and middleware. It maps the
// pipeline and learning operations onto a JSON REST surface and keeps every
// business decision inside the packages it calls.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/talentbruecke/matchengine/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain sentinels onto HTTP status codes. details is
// optional payload for the client, e.g. the live run snapshot on a 409.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyRunning):
		code = http.StatusConflict
		codeStr = "ALREADY_RUNNING"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrPrecondition):
		code = http.StatusUnprocessableEntity
		codeStr = "PRECONDITION_FAILED"
	case errors.Is(err, domain.ErrNoAPIKey):
		code = http.StatusServiceUnavailable
		codeStr = "NO_API_KEY"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrUpstreamProtocol):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_PROTOCOL"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
