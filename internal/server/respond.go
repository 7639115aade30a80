package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Applied    bool   `json:"applied,omitempty"`
	Message    string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var rle *shared.RateLimitError
	var apiErr *shared.APIError

	switch {
	case errors.As(err, &rle), errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidAction),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrRemoteUnavailable), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		var mutErr *membership.MutationError
		if errors.As(err, &mutErr) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status [statusFor] picks. message carries a partial outcome, if any.
func writeError(w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Message: message}

	var rle *shared.RateLimitError
	if errors.As(err, &rle) {
		body.Error = "Rate limit"
		body.RetryAfter = rle.Seconds()
	}

	var mutErr *membership.MutationError
	if errors.As(err, &mutErr) {
		body.Applied = mutErr.Applied
	}

	writeJSON(w, status, body)
}
