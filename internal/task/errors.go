package task

import "errors"

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidInput covers bad requests: unsupported files, missing fields
	// and transitions the current status does not allow.
	ErrInvalidInput = errors.New("invalid input")
)
