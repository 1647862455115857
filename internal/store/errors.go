package store

import "errors"

var (
	// ErrNotFound is returned when a wallet or trade does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a caller passes malformed data.
	ErrInvalidInput = errors.New("invalid input")
)
