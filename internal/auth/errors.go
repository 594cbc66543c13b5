package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
)

// Token verification failures. The service normalizes all three to
// ErrUnauthorized before they cross the flow boundary; the distinct
// sentinels exist so callers and tests can tell them apart.
var (
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenWrongKind = errors.New("auth: token kind mismatch")
)
