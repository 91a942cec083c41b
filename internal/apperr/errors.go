// Package apperr holds the error taxonomy shared by services and handlers.
// Services wrap these sentinels with context; handlers match them with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthenticated  = errors.New("invalid token")
	ErrTokenExpired     = errors.New("expired token")
	ErrPermissionDenied = errors.New("No Permission")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
)
