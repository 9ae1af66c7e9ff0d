package services

import (
	"errors"
	"fmt"

	"github.com/jjudge-oj/authserver/internal/store"
)

// Failure kinds returned by AccountService. Every error it returns wraps
// exactly one of these; callers branch with errors.Is.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyVerified = errors.New("already verified")
	ErrInvalidCode     = errors.New("invalid code")
	ErrExpired         = errors.New("expired")
	ErrUnavailable     = errors.New("unavailable")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrBadRequest, "BadRequest"},
	{ErrConflict, "Conflict"},
	{ErrNotFound, "NotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrForbidden, "Forbidden"},
	{ErrAlreadyVerified, "AlreadyVerified"},
	{ErrInvalidCode, "InvalidCode"},
	{ErrExpired, "Expired"},
	{ErrUnavailable, "Unavailable"},
}

// KindOf names the failure kind wrapped by err, or "" for nil and unknown
// errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}

// storeError translates repository errors into failure kinds.
func storeError(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, store.ErrDuplicateEmail):
		return fmt.Errorf("%w: email already registered", ErrConflict)
	case errors.Is(err, store.ErrAlreadyVerified):
		return fmt.Errorf("%w: email is already verified", ErrAlreadyVerified)
	case errors.Is(err, store.ErrCodeRejected):
		return fmt.Errorf("%w: code rejected", ErrInvalidCode)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
