package auth

import "errors"

// Credential errors. Use errors.Is() to check for these in calling code.
var (
	// ErrTokenMissing is returned when no credential was supplied.
	ErrTokenMissing = errors.New("auth: token is missing")

	// ErrTokenExpired is returned when a JWT's exp claim is in the past.
	ErrTokenExpired = errors.New("auth: token has expired")
)
