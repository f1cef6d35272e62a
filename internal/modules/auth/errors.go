package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountNotEligible  = errors.New("account is inactive or not verified")
	ErrConflict            = errors.New("user already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUpstreamUnavailable = errors.New("users service unavailable")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenCompromised is returned after every refresh token of the user
	// has been revoked; the client must sign in again.
	ErrTokenCompromised = errors.New("refresh token reuse detected")
	ErrSamePassword     = errors.New("new password must differ from the old one")
	ErrForbidden        = errors.New("invalid password")
	ErrNotFound         = errors.New("credentials not found")
)
