package graph

import (
	"strings"

	"github.com/tracegraph/genealogy-backend/internal/types"
)

// Validate gates a generated fragment before anything downstream trusts it.
// knownIDs is the anchor set: node ids already present in the target
// document that fragment edges may legitimately reference. Checks run in a
// fixed order and the first failure wins:
//
//  1. fragment-local node id uniqueness      -> ErrDuplicateNodeID
//  2. edge endpoints resolve (local ∪ known) -> ErrDanglingEdge
//  3. node type in the recognized enum       -> ErrInvalidNodeType
//  4. label and details non-empty            -> ErrMalformedNode
//
// Pure: Validate only classifies, it never repairs.
func Validate(frag types.GraphData, knownIDs map[string]bool) error {
	local := make(map[string]bool, len(frag.Nodes))
	for _, n := range frag.Nodes {
		if local[n.ID] {
			return validationErrorf(ErrDuplicateNodeID, "node id %q appears more than once", n.ID)
		}
		local[n.ID] = true
	}

	for _, e := range frag.Edges {
		if !local[e.Source] && !knownIDs[e.Source] {
			return validationErrorf(ErrDanglingEdge, "edge source %q resolves to no node", e.Source)
		}
		if !local[e.Target] && !knownIDs[e.Target] {
			return validationErrorf(ErrDanglingEdge, "edge target %q resolves to no node", e.Target)
		}
	}

	for _, n := range frag.Nodes {
		if !n.Type.Valid() {
			return validationErrorf(ErrInvalidNodeType, "node %q has unknown type %q", n.ID, n.Type)
		}
	}

	for _, n := range frag.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return validationErrorf(ErrMalformedNode, "node with empty id")
		}
		if strings.TrimSpace(n.Label) == "" {
			return validationErrorf(ErrMalformedNode, "node %q has empty label", n.ID)
		}
		if strings.TrimSpace(n.Details) == "" {
			return validationErrorf(ErrMalformedNode, "node %q has empty details", n.ID)
		}
	}

	return nil
}
