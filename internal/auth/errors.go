package auth

import "errors"

var (
	// ErrUnauthenticated means no credential could be resolved to a known, usable account.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the caller is known but a guard denied the operation.
	ErrForbidden     = errors.New("auth: forbidden")
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrConflict      = errors.New("auth: conflict")
	ErrUsernameTaken = errors.New("auth: username taken")

	// ErrInvalidToken is returned by token parsers; callers fall through or translate it.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrProviderUnavailable wraps federated provider timeouts and transport failures.
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
)
