package domain

import "errors"

var (
	// ErrNotConnected is returned by sends attempted while the session is not
	// open. User-correctable by waiting for reconnect.
	ErrNotConnected = errors.New("session not connected")

	// ErrInvalidDestination is returned for an empty destination.
	ErrInvalidDestination = errors.New("invalid destination")
)
