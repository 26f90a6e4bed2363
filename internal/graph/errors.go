package graph

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the cache/merge subsystem. Validation sentinels mean
// the fragment is structurally untrustworthy and must not be stored;
// ErrAlreadyExists is a benign create race the caller resolves with a
// re-read; the rest map to distinct client-facing statuses at the transport
// boundary.
var (
	// ErrDuplicateNodeID indicates two fragment nodes share an id.
	ErrDuplicateNodeID = errors.New("duplicate node id")
	// ErrDanglingEdge indicates an edge endpoint resolves to no known node.
	ErrDanglingEdge = errors.New("dangling edge")
	// ErrInvalidNodeType indicates a node type outside the recognized enum.
	ErrInvalidNodeType = errors.New("invalid node type")
	// ErrMalformedNode indicates a node missing required text fields.
	ErrMalformedNode = errors.New("malformed node")
	// ErrNoNewContent indicates an expansion that would not grow the graph.
	ErrNoNewContent = errors.New("no new content")
	// ErrAlreadyExists indicates a slug uniqueness conflict on create.
	ErrAlreadyExists = errors.New("roadmap already exists")
	// ErrNotFound indicates an absent slug or parent node.
	ErrNotFound = errors.New("roadmap not found")
	// ErrGenerationFailed indicates the external generator errored or
	// produced output it could not recover into the fragment shape.
	ErrGenerationFailed = errors.New("generation failed")
)

// IsValidationError reports whether err belongs to the fragment-validation
// family. These never cross the transport boundary raw; they are folded into
// a generation failure by the service layer.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrInvalidNodeType) ||
		errors.Is(err, ErrMalformedNode)
}

func validationErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
