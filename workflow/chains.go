package workflow

import (
	"sort"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// Edge is a directed connection, optionally tagged with a source handle.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Handle string `json:"handle,omitempty"`
}

// Chains is the read-only dependency graph of one (sub)workflow.
type Chains struct {
	StartNodeID     string              `json:"start_node_id"`
	TerminalNodeIDs []string            `json:"terminal_node_ids"`
	Predecessors    map[string][]string `json:"predecessors"`
	Successors      map[string][]string `json:"successors"`
	Incoming        map[string][]Edge   `json:"incoming"`
	Outgoing        map[string][]Edge   `json:"outgoing"`
	// Order is a topological order, ties broken by DSL declaration order.
	Order []string `json:"order"`
}

// ancestors returns the transitive predecessor set of id.
func (c *Chains) ancestors(id string) map[string]struct{} {
	seen := make(map[string]struct{})
	stack := append([]string(nil), c.Predecessors[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, c.Predecessors[n]...)
	}
	return seen
}

// buildChains derives Chains from a scope's nodes and edges. startKind is
// node-start for a workflow and iteration-node-start for an iteration body.
func buildChains(nodes []dsl.NodeDef, edges []dsl.EdgeDef, startKind NodeKind) (*Chains, error) {
	c := &Chains{
		Predecessors: make(map[string][]string, len(nodes)),
		Successors:   make(map[string][]string, len(nodes)),
		Incoming:     make(map[string][]Edge, len(nodes)),
		Outgoing:     make(map[string][]Edge, len(nodes)),
	}

	index := make(map[string]int, len(nodes))
	kinds := make(map[string]NodeKind, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; dup {
			return nil, types.Errorf(types.ErrDSLSchema, "duplicate node ID: %s", n.ID)
		}
		index[n.ID] = i
		kinds[n.ID] = NodeKind(n.NodeType())
		if NodeKind(n.NodeType()) == startKind {
			if c.StartNodeID != "" {
				return nil, types.Errorf(types.ErrDSLSchema, "multiple %s nodes: %s, %s", startKind, c.StartNodeID, n.ID)
			}
			c.StartNodeID = n.ID
		}
	}
	if c.StartNodeID == "" {
		return nil, types.Errorf(types.ErrDSLSchema, "missing %s node", startKind)
	}

	seenEdge := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := index[e.SourceNodeID]; !ok {
			return nil, types.Errorf(types.ErrDSLSchema, "edge source %q does not exist", e.SourceNodeID)
		}
		if _, ok := index[e.TargetNodeID]; !ok {
			return nil, types.Errorf(types.ErrDSLSchema, "edge target %q does not exist", e.TargetNodeID)
		}
		if e.SourceNodeID == e.TargetNodeID {
			return nil, types.Errorf(types.ErrDSLSchema, "self loop on node %s", e.SourceNodeID)
		}
		edge := Edge{Source: e.SourceNodeID, Target: e.TargetNodeID, Handle: e.SourceHandle}
		if _, dup := seenEdge[edge]; dup {
			continue
		}
		seenEdge[edge] = struct{}{}
		c.Outgoing[edge.Source] = append(c.Outgoing[edge.Source], edge)
		c.Incoming[edge.Target] = append(c.Incoming[edge.Target], edge)
		c.Successors[edge.Source] = appendUnique(c.Successors[edge.Source], edge.Target)
		c.Predecessors[edge.Target] = appendUnique(c.Predecessors[edge.Target], edge.Source)
	}
	if len(c.Predecessors[c.StartNodeID]) > 0 {
		return nil, types.Errorf(types.ErrDSLSchema, "start node %s must not have incoming edges", c.StartNodeID)
	}

	for _, n := range nodes {
		k := kinds[n.ID]
		if k.isTerminal() || (k == KindMessage && len(c.Successors[n.ID]) == 0) {
			c.TerminalNodeIDs = append(c.TerminalNodeIDs, n.ID)
		}
	}
	if len(c.TerminalNodeIDs) == 0 {
		return nil, types.NewError(types.ErrDSLSchema, "workflow has no terminal (end or message) node")
	}

	// Kahn 拓扑排序，同时检测环
	indeg := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indeg[n.ID] = len(c.Predecessors[n.ID])
	}
	var ready []string
	for _, n := range nodes {
		if indeg[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		c.Order = append(c.Order, id)
		for _, s := range c.Successors[id] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(c.Order) != len(nodes) {
		var cyclic []string
		for _, n := range nodes {
			if indeg[n.ID] > 0 {
				cyclic = append(cyclic, n.ID)
			}
		}
		return nil, types.Errorf(types.ErrDSLSchema, "workflow contains a cycle through %v", cyclic)
	}
	return c, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
