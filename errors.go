package vcgraph

import "errors"

var (
	// ErrGUIDMismatch means both deltas put different, unmovable nodes at
	// the same slot. It indicates inconsistent deltas and is not recoverable.
	ErrGUIDMismatch = errors.New("guid mismatch")

	ErrInvalidOptions   = errors.New("invalid options")
	ErrNothingToResolve = errors.New("merge result has no conflicts to resolve")
	ErrMalformedPath    = errors.New("malformed field path")
	ErrMissingSide      = errors.New("conflict item has no value for the selected side")
)
