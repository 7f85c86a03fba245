package domain

import "errors"

// Sentinel errors shared across storage implementations and handlers.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidAPIKey is returned when no company matches an API key.
	ErrInvalidAPIKey = errors.New("invalid API key")
)
