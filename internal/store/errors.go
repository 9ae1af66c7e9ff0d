package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when an account with the same email exists.
var ErrDuplicateEmail = errors.New("duplicate email")

// ErrAlreadyVerified is returned when a verification code is issued for an
// account whose email is already verified.
var ErrAlreadyVerified = errors.New("already verified")

// ErrCodeRejected is returned when a one-time code could not be consumed:
// none is pending, it does not match, or it has expired. Callers re-read the
// record to tell these apart.
var ErrCodeRejected = errors.New("code rejected")
