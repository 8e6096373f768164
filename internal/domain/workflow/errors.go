package workflow

import "errors"

var (
	// ErrNotFound is returned when an expense or rule does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorizedOrAlreadyActed is returned when the caller holds no
	// live pending entry on the expense. A concurrent double-submit loses
	// with this error rather than overwriting the winner's decision.
	ErrNotAuthorizedOrAlreadyActed = errors.New("not authorized to act on this expense or already acted")

	// ErrValidation is returned for malformed actions or comments.
	ErrValidation = errors.New("validation failed")

	// ErrDependencyFailure is returned when a required collaborator (the
	// currency normalizer) is unavailable at routing time.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrTerminalState is returned when acting on an expense that already
	// reached a terminal state.
	ErrTerminalState = errors.New("expense is in a terminal state")
)
