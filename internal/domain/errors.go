package domain

import "errors"

// Domain-level sentinel errors. They carry no transport information; the
// API layer maps them to status codes.
var (
	// ErrNotFound covers unknown sessions, courses and questions.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers missing fields, out-of-range indices and
	// malformed answer arrays.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict covers lost compare-and-swap races and flow-state
	// violations such as navigating past an unanswered page quiz.
	ErrConflict = errors.New("conflict")

	// ErrUpstream marks collaborator failures. These are logged and
	// swallowed and never reach a caller.
	ErrUpstream = errors.New("upstream failure")
)
