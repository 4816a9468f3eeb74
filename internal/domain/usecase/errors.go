package usecase

import "errors"

var (
	// ErrNotFound covers absent records and records owned by someone else;
	// callers cannot tell the two apart.
	ErrNotFound = errors.New("not found")

	// ErrConflictingState is returned when a job is dispatched while not in
	// a dispatchable state, or when a concurrent dispatch won the race.
	ErrConflictingState = errors.New("job is not in a dispatchable state")

	// ErrInsufficientCredits is reported before any state is mutated.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInputNotFound means the job's stored input key no longer resolves.
	ErrInputNotFound = errors.New("input file not found")

	// ErrInvalidSignature rejects a webhook whose signature does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrAlreadyCharged means a deduction for this job already exists.
	ErrAlreadyCharged = errors.New("job already charged")
)
