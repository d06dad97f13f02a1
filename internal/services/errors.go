package services

import "errors"

// Service errors. Transports map them to status codes with errors.Is.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotReady     = errors.New("not ready")
)
