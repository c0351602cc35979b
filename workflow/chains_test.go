package workflow

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/testutil/fixtures"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// randomDAG builds start -> n text joiners -> end with random forward edges.
// Every joiner has at least one predecessor and every sink feeds the end node.
func randomDAG(n int, seed int64) *dsl.WorkflowDSL {
	r := rand.New(rand.NewSource(seed))
	start := fixtures.Start("node-start::0")
	nodes := []dsl.NodeDef{start}
	ids := []string{start.ID}
	var edges []dsl.EdgeDef
	hasSucc := map[string]bool{}

	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("text-joiner::%d", i)
		nodes = append(nodes, fixtures.TextJoiner(id, "x"))
		linked := false
		for _, prev := range ids {
			if r.Intn(3) == 0 {
				edges = append(edges, fixtures.Edge(prev, id))
				hasSucc[prev] = true
				linked = true
			}
		}
		if !linked {
			prev := ids[r.Intn(len(ids))]
			edges = append(edges, fixtures.Edge(prev, id))
			hasSucc[prev] = true
		}
		ids = append(ids, id)
	}

	end := fixtures.End("node-end::end", "done")
	for _, id := range ids {
		if !hasSucc[id] {
			edges = append(edges, fixtures.Edge(id, end.ID))
		}
	}
	nodes = append(nodes, end)
	// 打乱声明顺序，排序不能依赖它
	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	return fixtures.Workflow(nodes, edges...)
}

func TestBuildChains_Linear(t *testing.T) {
	d := fixtures.Workflow(fixtures.Nodes(
		fixtures.Start("node-start::1"),
		fixtures.TextJoiner("text-joiner::2", "a"),
		fixtures.End("node-end::3", "b"),
	), fixtures.Chain("node-start::1", "text-joiner::2", "node-end::3")...)

	c, err := buildChains(d.Nodes, d.Edges, KindStart)
	require.NoError(t, err)
	assert.Equal(t, "node-start::1", c.StartNodeID)
	assert.Equal(t, []string{"node-end::3"}, c.TerminalNodeIDs)
	assert.Equal(t, []string{"node-start::1", "text-joiner::2", "node-end::3"}, c.Order)
	assert.Equal(t, []string{"node-start::1"}, c.Predecessors["text-joiner::2"])
	assert.Equal(t, map[string]struct{}{"node-start::1": {}, "text-joiner::2": {}}, c.ancestors("node-end::3"))
}

func TestBuildChains_DuplicateEdgesCollapse(t *testing.T) {
	d := fixtures.Workflow(fixtures.Nodes(
		fixtures.Start("node-start::1"),
		fixtures.End("node-end::2", "b"),
	), fixtures.Edge("node-start::1", "node-end::2"), fixtures.Edge("node-start::1", "node-end::2"))

	c, err := buildChains(d.Nodes, d.Edges, KindStart)
	require.NoError(t, err)
	assert.Len(t, c.Outgoing["node-start::1"], 1)
	assert.Len(t, c.Predecessors["node-end::2"], 1)
}

func TestBuildChains_MessageWithoutSuccessorIsTerminal(t *testing.T) {
	d := fixtures.Workflow(fixtures.Nodes(
		fixtures.Start("node-start::1"),
		fixtures.Node("message::2", map[string]any{"template": "hi"}),
	), fixtures.Edge("node-start::1", "message::2"))

	c, err := buildChains(d.Nodes, d.Edges, KindStart)
	require.NoError(t, err)
	assert.Equal(t, []string{"message::2"}, c.TerminalNodeIDs)
}

func TestBuildChains_Errors(t *testing.T) {
	start := fixtures.Start("node-start::1")
	tj := fixtures.TextJoiner("text-joiner::2", "a")
	tj2 := fixtures.TextJoiner("text-joiner::3", "a")
	end := fixtures.End("node-end::9", "b")

	tests := []struct {
		name  string
		nodes []dsl.NodeDef
		edges []dsl.EdgeDef
	}{
		{"missing start", fixtures.Nodes(tj, end), fixtures.Chain(tj.ID, end.ID)},
		{"two starts", fixtures.Nodes(start, fixtures.Start("node-start::2"), end), fixtures.Chain(start.ID, end.ID)},
		{"duplicate id", fixtures.Nodes(start, end, end), fixtures.Chain(start.ID, end.ID)},
		{"unknown edge target", fixtures.Nodes(start, end), fixtures.Chain(start.ID, "ghost::1")},
		{"unknown edge source", fixtures.Nodes(start, end), fixtures.Chain("ghost::1", end.ID)},
		{"self loop", fixtures.Nodes(start, tj, end), append(fixtures.Chain(start.ID, tj.ID, end.ID), fixtures.Edge(tj.ID, tj.ID))},
		{"no terminal", fixtures.Nodes(start, tj), fixtures.Chain(start.ID, tj.ID)},
		{"edge into start", fixtures.Nodes(start, tj, end), append(fixtures.Chain(start.ID, tj.ID, end.ID), fixtures.Edge(tj.ID, start.ID))},
		{"cycle", fixtures.Nodes(start, tj, tj2, end), append(fixtures.Chain(start.ID, tj.ID, tj2.ID, end.ID), fixtures.Edge(tj2.ID, tj.ID))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildChains(tt.nodes, tt.edges, KindStart)
			testutil.AssertErrorCode(t, err, types.ErrDSLSchema)
		})
	}
}

func TestBuildChains_CycleNamesNodes(t *testing.T) {
	d := fixtures.Workflow(fixtures.Nodes(
		fixtures.Start("node-start::1"),
		fixtures.TextJoiner("text-joiner::a", "a"),
		fixtures.TextJoiner("text-joiner::b", "b"),
		fixtures.End("node-end::1", "e"),
	),
		fixtures.Edge("node-start::1", "text-joiner::a"),
		fixtures.Edge("text-joiner::a", "text-joiner::b"),
		fixtures.Edge("text-joiner::b", "text-joiner::a"),
		fixtures.Edge("text-joiner::b", "node-end::1"),
	)
	_, err := buildChains(d.Nodes, d.Edges, KindStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text-joiner::a")
	assert.Contains(t, err.Error(), "text-joiner::b")
}

// Feature: workflow engine, Property: topological order
func TestProperty_ChainsOrderIsTopological(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every edge points forward in Order", prop.ForAll(
		func(n int, seed int64) bool {
			d := randomDAG(n, seed)
			c, err := buildChains(d.Nodes, d.Edges, KindStart)
			if err != nil {
				t.Logf("build chains: %v", err)
				return false
			}
			if len(c.Order) != len(d.Nodes) {
				return false
			}
			pos := make(map[string]int, len(c.Order))
			for i, id := range c.Order {
				pos[id] = i
			}
			for _, e := range d.Edges {
				if pos[e.SourceNodeID] >= pos[e.TargetNodeID] {
					t.Logf("edge %s -> %s out of order", e.SourceNodeID, e.TargetNodeID)
					return false
				}
			}
			return c.Order[0] == c.StartNodeID
		},
		gen.IntRange(0, 12),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
