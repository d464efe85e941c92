package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrValidation        = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("resource already exists")
	ErrSessionClosed     = errors.New("session is closed")
)
