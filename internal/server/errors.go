package server

import "errors"

// Error taxonomy for core operations. Callers branch on these with
// errors.Is; operations wrap them with context via fmt.Errorf and %w.
var (
	// ErrNotFound: a referenced message, channel, user or invitation does
	// not exist. Surfaced to the caller, never retried.
	ErrNotFound = errors.New("not found")

	// ErrPermission: the actor lacks the membership or ownership the
	// operation requires.
	ErrPermission = errors.New("permission denied")

	// ErrConflict: the request duplicates existing state, such as inviting
	// a user who is already a member or already has a pending invitation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState: an invalid transition, such as accepting an
	// invitation that is no longer pending.
	ErrInvalidState = errors.New("invalid state")
)
