package service

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrEmailTaken           = errors.New("email is already registered")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidRole          = errors.New("invalid role specified")

	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token has been revoked")
	ErrTokenExpired  = errors.New("refresh token has expired")
	// ErrRotationIncomplete means a new refresh token was stored but its
	// siblings could not all be revoked. The new token is still valid.
	ErrRotationIncomplete = errors.New("refresh token rotation incomplete")

	ErrTaskNotFound     = errors.New("task not found")
	ErrPermissionDenied = errors.New("permission denied")
)
