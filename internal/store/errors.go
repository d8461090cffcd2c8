package store

import "github.com/cockroachdb/errors"

// Sentinel errors shared by store implementations.
// Wrap these with errors.Wrap to add context while preserving errors.Is checks.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFlowStatus indicates a recorded flow status could not be decoded.
	ErrFlowStatus = errors.New("invalid flow status")

	// ErrInvalidPath indicates a handler path without a script/ or flow/ prefix.
	ErrInvalidPath = errors.New("invalid prefixed path")
)
