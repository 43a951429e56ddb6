package models

import "errors"

var (
	// ErrNotFound marks a missing or expired session, version, context entry,
	// task, or sprint.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks a transition that is not allowed, such as closing
	// a task twice.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument marks caller input that can never succeed.
	ErrInvalidArgument = errors.New("invalid argument")
)
