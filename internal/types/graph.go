package types

// NodeType is the semantic dimension a node belongs to. Every stored graph
// has exactly one "input" seed node; all other nodes carry one of the three
// dimensions.
type NodeType string

const (
	NodeTypeInput NodeType = "input" // the seed concept at the center
	NodeTypeRoot  NodeType = "root"  // history / genealogy
	NodeTypeCore  NodeType = "core"  // ontology / definition
	NodeTypePath  NodeType = "path"  // curriculum / learning path
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeInput, NodeTypeRoot, NodeTypeCore, NodeTypePath:
		return true
	}
	return false
}

// ExpansionType reports whether t may be requested as the context of an
// expansion. The seed dimension is excluded: expansions grow outward from an
// existing node, they never introduce a second seed.
func (t NodeType) ExpansionType() bool {
	switch t {
	case NodeTypeRoot, NodeTypeCore, NodeTypePath:
		return true
	}
	return false
}

const (
	CapabilityExpand = "expand"
	CapabilityPivot  = "pivot"
)

type Node struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Type         NodeType `json:"type"`
	Details      string   `json:"details"`
	Year         *string  `json:"year,omitempty"`
	Tag          *string  `json:"tag,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// GraphData is both the persisted document body and the shape a generation
// run returns before validation and merge.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIDs returns the document's id set, the anchor set expansions validate
// against.
func (g GraphData) NodeIDs() map[string]bool {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	return ids
}
