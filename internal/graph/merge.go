package graph

import (
	"fmt"

	"github.com/tracegraph/genealogy-backend/internal/types"
)

// anchorEdgeLabels are the verbs used when the merge engine has to invent an
// edge from the seed node to an otherwise anchorless sub-root.
var anchorEdgeLabels = map[types.NodeType]string{
	types.NodeTypeRoot: "traces back to",
	types.NodeTypeCore: "is composed of",
	types.NodeTypePath: "learned through",
}

// MergeInitial turns a freshly generated fragment into the full document for
// a brand-new roadmap. Fragment ids are taken as-is; the only repair applied
// is the seed-node policy: every stored graph ends up with exactly one
// "input" node. If the generator supplied none, one is synthesized from the
// slug and the original concept text and every anchorless sub-root is wired
// to it. Extra "input" nodes beyond the first are demoted to "core".
func MergeInitial(concept, slug string, frag types.GraphData) (types.GraphData, error) {
	if err := Validate(frag, nil); err != nil {
		return types.GraphData{}, err
	}
	if len(frag.Nodes) == 0 {
		return types.GraphData{}, fmt.Errorf("%w: generator returned an empty fragment", ErrNoNewContent)
	}

	doc := types.GraphData{
		Nodes: make([]types.Node, len(frag.Nodes)),
		Edges: make([]types.Edge, len(frag.Edges)),
	}
	copy(doc.Nodes, frag.Nodes)
	copy(doc.Edges, frag.Edges)

	seen := false
	for i := range doc.Nodes {
		defaultCapabilities(&doc.Nodes[i])
		if doc.Nodes[i].Type != types.NodeTypeInput {
			continue
		}
		if seen {
			doc.Nodes[i].Type = types.NodeTypeCore
			continue
		}
		seen = true
	}
	if !seen {
		doc = synthesizeSeed(concept, slug, doc)
	}

	return doc, nil
}

// synthesizeSeed injects the input node and anchors every node that has no
// incoming edge to it, so the rendered graph stays connected at the seed.
func synthesizeSeed(concept, slug string, doc types.GraphData) types.GraphData {
	ids := doc.NodeIDs()
	seedID := disambiguate(slug+"-input", func(id string) bool { return ids[id] })

	seed := types.Node{
		ID:           seedID,
		Label:        concept,
		Type:         types.NodeTypeInput,
		Details:      fmt.Sprintf("The seed concept this genealogy is rooted at: %s.", concept),
		Capabilities: []string{types.CapabilityExpand, types.CapabilityPivot},
	}

	hasIncoming := make(map[string]bool, len(doc.Nodes))
	for _, e := range doc.Edges {
		hasIncoming[e.Target] = true
	}

	anchored := doc.Edges
	for _, n := range doc.Nodes {
		if hasIncoming[n.ID] {
			continue
		}
		label := anchorEdgeLabels[n.Type]
		if label == "" {
			label = "relates to"
		}
		anchored = append(anchored, types.Edge{Source: seedID, Target: n.ID, Label: label})
	}

	return types.GraphData{
		Nodes: append([]types.Node{seed}, doc.Nodes...),
		Edges: anchored,
	}
}

// MergeExpansion reconciles an expansion fragment with the document it grows
// out of, returning only the delta for the store to append. doc is never
// mutated. parentID must already exist in doc; contextType is authoritative
// for every new node's dimension, whatever the generator claimed. Fragment
// ids colliding with existing ids are renamed with a deterministic counter
// suffix and every edge endpoint is remapped accordingly. Edge sources that
// are not fragment-local are treated as the generator's anchor placeholder
// and forced to parentID.
func MergeExpansion(doc types.GraphData, parentID string, contextType types.NodeType, frag types.GraphData) (types.GraphData, error) {
	if !contextType.ExpansionType() {
		return types.GraphData{}, validationErrorf(ErrInvalidNodeType, "context type %q cannot be expanded into", contextType)
	}

	known := doc.NodeIDs()
	if !known[parentID] {
		return types.GraphData{}, fmt.Errorf("%w: parent node %q", ErrNotFound, parentID)
	}

	local := frag.NodeIDs()

	// Anchor defense before validation: a source that is not one of the
	// fragment's own nodes is the generator pointing (correctly or not) at
	// the parent, and the caller-supplied parentID wins. Anchored edges are
	// remembered so a fragment node that happens to echo parentID cannot
	// pull them onto its renamed id later.
	rewritten := types.GraphData{
		Nodes: frag.Nodes,
		Edges: make([]types.Edge, len(frag.Edges)),
	}
	anchored := make([]bool, len(frag.Edges))
	for i, e := range frag.Edges {
		if !local[e.Source] {
			e.Source = parentID
			anchored[i] = true
		}
		rewritten.Edges[i] = e
	}

	if err := Validate(rewritten, known); err != nil {
		return types.GraphData{}, err
	}
	if len(rewritten.Nodes) == 0 {
		return types.GraphData{}, fmt.Errorf("%w: expansion of %q added no nodes", ErrNoNewContent, parentID)
	}

	taken := make(map[string]bool, len(known)+len(rewritten.Nodes))
	for id := range known {
		taken[id] = true
	}

	idMap := make(map[string]string, len(rewritten.Nodes))
	delta := types.GraphData{
		Nodes: make([]types.Node, 0, len(rewritten.Nodes)),
		Edges: make([]types.Edge, 0, len(rewritten.Edges)),
	}

	for _, n := range rewritten.Nodes {
		fresh := disambiguate(n.ID, func(id string) bool { return taken[id] })
		taken[fresh] = true
		idMap[n.ID] = fresh

		n.ID = fresh
		n.Type = contextType
		defaultCapabilities(&n)
		delta.Nodes = append(delta.Nodes, n)
	}

	for i, e := range rewritten.Edges {
		if !anchored[i] {
			if mapped, ok := idMap[e.Source]; ok {
				e.Source = mapped
			}
		}
		if mapped, ok := idMap[e.Target]; ok {
			e.Target = mapped
		}
		delta.Edges = append(delta.Edges, e)
	}

	return delta, nil
}

// disambiguate returns id itself when free, otherwise the first of id-2,
// id-3, ... not claimed by taken.
func disambiguate(id string, taken func(string) bool) string {
	if !taken(id) {
		return id
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", id, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

func defaultCapabilities(n *types.Node) {
	if len(n.Capabilities) == 0 {
		n.Capabilities = []string{types.CapabilityExpand, types.CapabilityPivot}
	}
}
