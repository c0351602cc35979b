package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/testutil/fixtures"
	"github.com/BaSui01/flowengine/testutil/mocks"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

func linearDSL() *dsl.WorkflowDSL {
	start := fixtures.Start("node-start::1", fixtures.RequiredOutput("query", "string"))
	tj := fixtures.TextJoiner("text-joiner::2", "{{input}}!", fixtures.Input("input", fixtures.Ref(start.ID, "query")))
	end := fixtures.End("node-end::3", "{{out}}", fixtures.Input("out", fixtures.Ref(tj.ID, "output")))
	return fixtures.Workflow(fixtures.Nodes(start, tj, end), fixtures.Chain(start.ID, tj.ID, end.ID)...)
}

func TestBuilder_BuildLinear(t *testing.T) {
	e, err := NewBuilder(linearDSL(), testDeps()).WithFlowID("f1").Build()
	require.NoError(t, err)

	ec := e.Context()
	assert.Equal(t, "f1", ec.FlowID)
	assert.Len(t, ec.Nodes, 3)
	assert.Equal(t, KindTextJoiner, ec.Nodes["text-joiner::2"].Kind)
	assert.Equal(t, []string{"input"}, ec.Nodes["text-joiner::2"].InputIdentifier)
	assert.Equal(t, []string{"output"}, ec.Nodes["text-joiner::2"].OutputIdentifier)
	assert.IsType(t, &TextJoinerParams{}, ec.Nodes["text-joiner::2"].Params)
	for id := range ec.Nodes {
		assert.Equal(t, StatusPending, ec.Status[id].Status())
	}
}

func TestBuilder_BuildChainsIsIdempotent(t *testing.T) {
	b := NewBuilder(linearDSL(), testDeps())
	c1, err := b.BuildChains()
	require.NoError(t, err)
	c2, err := b.BuildChains()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	n1, err := b.BuildNodes()
	require.NoError(t, err)
	n2, err := b.BuildNodes()
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestBuilder_Errors(t *testing.T) {
	start := fixtures.Start("node-start::1", fixtures.Output("q", "string"))
	end := fixtures.End("node-end::9", "done")

	tests := []struct {
		name string
		dsl  *dsl.WorkflowDSL
		deps func(Dependencies) Dependencies
		code types.ErrorCode
	}{
		{
			name: "unknown node type",
			dsl: fixtures.Workflow(fixtures.Nodes(start, fixtures.Node("plugin::2", nil), end),
				fixtures.Chain(start.ID, "plugin::2", end.ID)...),
			code: types.ErrNodeTypeUnknown,
		},
		{
			name: "invalid params",
			dsl: fixtures.Workflow(fixtures.Nodes(start, fixtures.Node("text-joiner::2", map[string]any{"mode": 7}), end),
				fixtures.Chain(start.ID, "text-joiner::2", end.ID)...),
			code: types.ErrNodeParamSchema,
		},
		{
			name: "params of the wrong shape",
			dsl: fixtures.Workflow(fixtures.Nodes(start, fixtures.Node("text-joiner::2", map[string]any{"mode": "join"}), end),
				fixtures.Chain(start.ID, "text-joiner::2", end.ID)...),
			code: types.ErrNodeParamSchema,
		},
		{
			name: "missing chat provider",
			dsl: fixtures.Workflow(fixtures.Nodes(start, fixtures.LLM("spark-llm::2", "hi"), end),
				fixtures.Chain(start.ID, "spark-llm::2", end.ID)...),
			code: types.ErrInvalidRequest,
		},
		{
			name: "reference to a node that is not upstream",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.TextJoiner("text-joiner::a", "a"),
				fixtures.TextJoiner("text-joiner::b", "{{x}}", fixtures.Input("x", fixtures.Ref("text-joiner::a", "output"))),
				end),
				fixtures.Edge(start.ID, "text-joiner::a"),
				fixtures.Edge(start.ID, "text-joiner::b"),
				fixtures.Edge("text-joiner::a", end.ID),
				fixtures.Edge("text-joiner::b", end.ID),
			),
			code: types.ErrDSLSchema,
		},
		{
			name: "reference to an unknown node",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.TextJoiner("text-joiner::b", "{{x}}", fixtures.Input("x", fixtures.Ref("text-joiner::ghost", "output"))),
				end), fixtures.Chain(start.ID, "text-joiner::b", end.ID)...),
			code: types.ErrDSLSchema,
		},
		{
			name: "malformed reference",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.TextJoiner("text-joiner::b", "{{x}}", fixtures.Input("x", dsl.ValueDef{Type: dsl.ValueTypeRef, Content: "nope"})),
				end), fixtures.Chain(start.ID, "text-joiner::b", end.ID)...),
			code: types.ErrVariableParse,
		},
		{
			name: "unknown branch handle",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.IfElse("if-else::2", []map[string]any{fixtures.Case("yes", 1, "and", fixtures.Cond("q", "not_empty", ""))},
					fixtures.Input("q", fixtures.Ref(start.ID, "q"))),
				end),
				fixtures.Edge(start.ID, "if-else::2"),
				fixtures.HandleEdge("if-else::2", "maybe", end.ID),
			),
			code: types.ErrDSLSchema,
		},
		{
			name: "plain edge from a branching node",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.IfElse("if-else::2", []map[string]any{fixtures.Case("yes", 1, "and", fixtures.Cond("q", "not_empty", ""))},
					fixtures.Input("q", fixtures.Ref(start.ID, "q"))),
				end),
				fixtures.Edge(start.ID, "if-else::2"),
				fixtures.Edge("if-else::2", end.ID),
			),
			code: types.ErrDSLSchema,
		},
		{
			name: "cycle",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.TextJoiner("text-joiner::a", "a"),
				fixtures.TextJoiner("text-joiner::b", "b"),
				end),
				fixtures.Edge(start.ID, "text-joiner::a"),
				fixtures.Edge("text-joiner::a", "text-joiner::b"),
				fixtures.Edge("text-joiner::b", "text-joiner::a"),
				fixtures.Edge("text-joiner::b", end.ID),
			),
			code: types.ErrDSLSchema,
		},
		{
			name: "edge crossing an iteration boundary",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.Node("iteration::2", nil, fixtures.Input("input", fixtures.Ref(start.ID, "q"))),
				fixtures.Node("iteration-node-start::3", nil, fixtures.Parent("iteration::2")),
				fixtures.Node("iteration-node-end::4", nil, fixtures.Parent("iteration::2")),
				end),
				fixtures.Edge(start.ID, "iteration::2"),
				fixtures.Edge("iteration::2", "iteration-node-start::3"),
				fixtures.Edge("iteration-node-start::3", "iteration-node-end::4"),
				fixtures.Edge("iteration-node-end::4", end.ID),
				fixtures.Edge("iteration::2", end.ID),
			),
			code: types.ErrDSLSchema,
		},
		{
			name: "iteration body without start",
			dsl: fixtures.Workflow(fixtures.Nodes(start,
				fixtures.Node("iteration::2", nil, fixtures.Input("input", fixtures.Ref(start.ID, "q"))),
				fixtures.Node("iteration-node-end::4", nil, fixtures.Parent("iteration::2")),
				end),
				fixtures.Edge(start.ID, "iteration::2"),
				fixtures.Edge("iteration::2", end.ID),
			),
			code: types.ErrDSLSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			if tt.deps != nil {
				deps = tt.deps(deps)
			}
			_, err := NewBuilder(tt.dsl, deps).Build()
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestBuilder_NilDSL(t *testing.T) {
	_, err := NewBuilder(nil, testDeps()).Build()
	testutil.AssertErrorCode(t, err, types.ErrDSLSchema)
}

func TestBuilder_MessageDependencies(t *testing.T) {
	start := fixtures.Start("node-start::1", fixtures.Output("q", "string"))
	l1 := fixtures.LLM("spark-llm::2", "{{q}}", fixtures.Input("q", fixtures.Ref(start.ID, "q")))
	l2 := fixtures.LLM("spark-llm::3", "{{q}}", fixtures.Input("q", fixtures.Ref(start.ID, "q")))
	end := fixtures.StreamingEnd("node-end::4", "A: {{a}} B: {{b}} Q: {{q}} path: {{a.x}}",
		fixtures.Input("a", fixtures.Ref(l1.ID, "output")),
		fixtures.Input("b", fixtures.Ref(l2.ID, "output")),
		fixtures.Input("q", fixtures.Ref(start.ID, "q")),
	)
	d := fixtures.Workflow(fixtures.Nodes(start, l1, l2, end),
		fixtures.Edge(start.ID, l1.ID), fixtures.Edge(start.ID, l2.ID),
		fixtures.Edge(l1.ID, end.ID), fixtures.Edge(l2.ID, end.ID),
	)

	deps := testDeps()
	deps.Provider = mocks.NewMockProvider()
	b := NewBuilder(d, deps)
	chains, err := b.BuildChains()
	require.NoError(t, err)
	nodes, err := b.BuildNodes()
	require.NoError(t, err)

	msgDeps, consumers := b.BuildMessageDependencies(nodes, chains)
	assert.Equal(t, map[string][]string{end.ID: {l1.ID, l2.ID}}, msgDeps)
	assert.Equal(t, map[string][]string{l1.ID: {end.ID}, l2.ID: {end.ID}}, consumers)
}

func TestBuilder_NonStreamingEndHasNoMessageDependencies(t *testing.T) {
	start := fixtures.Start("node-start::1", fixtures.Output("q", "string"))
	l1 := fixtures.LLM("spark-llm::2", "{{q}}", fixtures.Input("q", fixtures.Ref(start.ID, "q")))
	end := fixtures.End("node-end::3", "{{a}}", fixtures.Input("a", fixtures.Ref(l1.ID, "output")))
	d := fixtures.Workflow(fixtures.Nodes(start, l1, end), fixtures.Chain(start.ID, l1.ID, end.ID)...)

	deps := testDeps()
	deps.Provider = mocks.NewMockProvider()
	e := buildEngine(t, d, deps)
	assert.Empty(t, e.Context().MessageDeps)
	assert.Empty(t, e.Context().StreamConsumers)
}

func TestBuilder_CreateDebugNode(t *testing.T) {
	b := NewBuilder(linearDSL(), testDeps())
	n, err := b.CreateDebugNode("text-joiner::2")
	require.NoError(t, err)
	assert.Equal(t, KindTextJoiner, n.Kind)

	_, err = b.CreateDebugNode("text-joiner::404")
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)
}

func TestBuilder_RunDebugNode(t *testing.T) {
	b := NewBuilder(linearDSL(), testDeps())
	res, err := b.RunDebugNode(testutil.TestContext(t), "text-joiner::2", map[string]any{"input": "hey"}, RunInput{})
	require.NoError(t, err)
	assert.Equal(t, ResultSucceeded, res.Kind)
	assert.Equal(t, "hey!", res.Outputs["output"])

	_, err = b.RunDebugNode(testutil.TestContext(t), "text-joiner::2", nil, RunInput{})
	testutil.AssertErrorCode(t, err, types.ErrVariableNotFound)
}

func TestParseNodeKind(t *testing.T) {
	k, ok := ParseNodeKind("spark-llm")
	assert.True(t, ok)
	assert.Equal(t, KindLLM, k)

	_, ok = ParseNodeKind("agent")
	assert.False(t, ok)
}
