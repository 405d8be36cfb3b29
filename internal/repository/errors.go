package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrRemoteDisabled is returned by the no-op remote store.
	ErrRemoteDisabled = errors.New("remote store disabled")
)
