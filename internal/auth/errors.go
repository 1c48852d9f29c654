package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers wrong email and wrong password alike;
	// callers never learn which one it was.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken is the single externally visible token failure.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInactiveAccount rejects disabled accounts regardless of token validity.
	ErrInactiveAccount = errors.New("auth: inactive account")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrNotConfigured = errors.New("auth: not configured")
)

// Internal refinements of ErrInvalidToken. They satisfy
// errors.Is(err, ErrInvalidToken) so the boundary collapses them into one
// category while logs keep the distinction.
var (
	ErrTokenExpired      = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenKindMismatch = fmt.Errorf("%w: kind mismatch", ErrInvalidToken)
	ErrTokenMalformed    = fmt.Errorf("%w: malformed", ErrInvalidToken)
)
