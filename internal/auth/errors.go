package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrAlreadyVerified    = errors.New("email already verified")
)
