package domain

import "errors"

var (
	// ErrInvalidArgument rejects a call whose arguments are out of range. State is untouched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSinkUnavailable reports that exported content could not be handed off.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrInvalidTransition rejects an operation the current stage does not permit.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
)
