package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Sentinel errors shared by every layer. Callers wrap them with eris and
// compare with errors.Is.
var (
	// ErrDataIncomplete means a structurally required record (the product
	// registration) is missing or carries no usable timestamp.
	ErrDataIncomplete = eris.New("data incomplete")
	// ErrNotFound means an unknown product or request id.
	ErrNotFound = eris.New("not found")
	// ErrAuthorizationDenied means the caller is not eligible for the action.
	ErrAuthorizationDenied = eris.New("authorization denied")
	// ErrAlreadyResolved means the request is in a terminal state.
	ErrAlreadyResolved = eris.New("already resolved")
	// ErrDuplicateVote means the identity already voted on the request.
	ErrDuplicateVote = eris.New("duplicate vote")
	// ErrNotExpired means an expiry was requested before the timeout elapsed.
	ErrNotExpired = eris.New("not expired")
	// ErrInvalidInput means the request parameters are malformed.
	ErrInvalidInput = eris.New("invalid input")
	// ErrStaleWrite means a request changed between read and update.
	ErrStaleWrite = eris.New("stale write")
)

// ErrorKind lets the presentation layer choose between a warning badge and
// a hard error without string matching.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindDataIncomplete      ErrorKind = "data_incomplete"
	KindNotFound            ErrorKind = "not_found"
	KindAuthorizationDenied ErrorKind = "authorization_denied"
	KindAlreadyResolved     ErrorKind = "already_resolved"
	KindConflict            ErrorKind = "conflict"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindInternal            ErrorKind = "internal"
)

// KindOf classifies err by the first sentinel found in its chain.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDataIncomplete):
		return KindDataIncomplete
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthorizationDenied):
		return KindAuthorizationDenied
	case errors.Is(err, ErrAlreadyResolved):
		return KindAlreadyResolved
	case errors.Is(err, ErrDuplicateVote), errors.Is(err, ErrNotExpired), errors.Is(err, ErrStaleWrite):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// Warning reports whether the kind should be shown as a warning rather than
// a hard error.
func (k ErrorKind) Warning() bool {
	return k == KindDataIncomplete
}
