package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/services"
)

type contextKey string

const contextSessionKey contextKey = "session"

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// MessageResponse is returned by operations without a body of their own.
type MessageResponse struct {
	Message string `json:"message"`
}

func withSession(ctx context.Context, session auth.Session) context.Context {
	return context.WithValue(ctx, contextSessionKey, session)
}

func sessionFromContext(ctx context.Context) (auth.Session, bool) {
	session, ok := ctx.Value(contextSessionKey).(auth.Session)
	if !ok || session.AccountID == "" {
		return auth.Session{}, false
	}
	return session, true
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service failure kind onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrAlreadyVerified):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidCode):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, services.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "service unavailable, retry later",
			Kind:  services.KindOf(err),
		})
		return
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Kind: services.KindOf(err)})
}
