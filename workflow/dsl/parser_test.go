package dsl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/types"
)

const linearJSON = `{
  "data": {
    "nodes": [
      {"id": "node-start::1", "data": {
        "nodeMeta": {"nodeType": "开始节点", "aliasName": "Start"},
        "inputs": [],
        "outputs": [{"id": "o1", "name": "AGENT_USER_INPUT", "schema": {"type": "string"}, "required": true}],
        "nodeParam": {}}},
      {"id": "text-joiner::2", "data": {
        "nodeMeta": {"nodeType": "工具", "aliasName": "Join"},
        "inputs": [{"id": "i1", "name": "output", "schema": {"type": "string",
          "value": {"type": "ref", "content": {"nodeId": "node-start::1", "name": "AGENT_USER_INPUT"}}}}],
        "outputs": [{"id": "o2", "name": "output", "schema": {"type": "string"}}],
        "nodeParam": {"mode": 0, "prompt": "{{output}}"}}},
      {"id": "node-end::3", "data": {
        "nodeMeta": {"nodeType": "结束节点", "aliasName": "End"},
        "inputs": [{"id": "i2", "name": "output", "schema": {"type": "string",
          "value": {"type": "ref", "content": {"nodeId": "text-joiner::2", "name": "output"}}}}],
        "outputs": [],
        "nodeParam": {"outputMode": 1, "template": "{{output}}", "streamOutput": false}}}
    ],
    "edges": [
      {"sourceNodeId": "node-start::1", "targetNodeId": "text-joiner::2"},
      {"sourceNodeId": "text-joiner::2", "targetNodeId": "node-end::3"}
    ]
  }
}`

const linearYAML = `
nodes:
  - id: node-start::1
    data:
      nodeMeta: {nodeType: start, aliasName: Start}
      outputs:
        - {id: o1, name: AGENT_USER_INPUT, schema: {type: string}, required: true}
      nodeParam: {}
  - id: node-end::2
    data:
      nodeMeta: {nodeType: end, aliasName: End}
      inputs:
        - id: i1
          name: output
          schema:
            type: string
            value:
              type: ref
              content: {nodeId: "node-start::1", name: AGENT_USER_INPUT}
      nodeParam:
        outputMode: 1
        template: "{{output}}"
        limits: {max: 3}
edges:
  - {sourceNodeId: "node-start::1", targetNodeId: "node-end::2"}
`

func TestParse_JSONWithEnvelope(t *testing.T) {
	d, err := Parse([]byte(linearJSON))
	require.NoError(t, err)

	require.Len(t, d.Nodes, 3)
	require.Len(t, d.Edges, 2)
	assert.Equal(t, "node-start", d.Nodes[0].NodeType())
	assert.Equal(t, "text-joiner", d.Nodes[1].NodeType())
	assert.Equal(t, []string{"output"}, d.Nodes[1].InputNames())
	assert.Equal(t, []string{"AGENT_USER_INPUT"}, d.Nodes[0].OutputNames())

	ref, ok := d.Nodes[1].Data.Inputs[0].Schema.Value.Ref()
	require.True(t, ok)
	assert.Equal(t, RefContent{NodeID: "node-start::1", Name: "AGENT_USER_INPUT"}, ref)
	assert.Equal(t, float64(0), d.Nodes[1].Data.NodeParam["mode"])
}

func TestParse_YAMLNormalizesNumbers(t *testing.T) {
	d, err := Parse([]byte(linearYAML))
	require.NoError(t, err)

	end, ok := d.Node("node-end::2")
	require.True(t, ok)
	assert.Equal(t, float64(1), end.Data.NodeParam["outputMode"])
	limits, ok := end.Data.NodeParam["limits"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), limits["max"])

	ref, ok := end.Data.Inputs[0].Schema.Value.Ref()
	require.True(t, ok)
	assert.Equal(t, "node-start::1", ref.NodeID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code types.ErrorCode
	}{
		{"empty", "  ", types.ErrDSLParse},
		{"bad json", `{"nodes": [`, types.ErrDSLParse},
		{"no nodes", `{"nodes": [], "edges": []}`, types.ErrDSLSchema},
		{
			name: "dangling edge",
			data: `{"nodes":[{"id":"node-start::1","data":{}}],"edges":[{"sourceNodeId":"node-start::1","targetNodeId":"node-end::x"}]}`,
			code: types.ErrDSLSchema,
		},
		{
			name: "duplicate id",
			data: `{"nodes":[{"id":"node-start::1","data":{}},{"id":"node-start::1","data":{}}],"edges":[]}`,
			code: types.ErrDSLSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(linearYAML), 0o600))

	d, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, d.Nodes, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, types.IsCode(err, types.ErrDSLParse))
}

func TestValidator_NodeLevelChecks(t *testing.T) {
	d := &WorkflowDSL{
		Nodes: []NodeDef{
			{ID: "node-start::1"},
			{ID: "llm::2", Data: NodeData{
				ParentID: "node-start::1",
				Inputs: []InputItem{
					{Name: "a", Schema: InputSchema{Value: ValueDef{Type: "ref", Content: map[string]any{"nodeId": "ghost", "name": "x"}}}},
					{Name: "a", Schema: InputSchema{Value: ValueDef{Type: "literal", Content: "v"}}},
					{Name: "b", Schema: InputSchema{Value: ValueDef{Type: "ref", Content: "not-a-map"}}},
					{Name: "c", Schema: InputSchema{Value: ValueDef{Type: "weird"}}},
				},
				Outputs:     []OutputItem{{Name: "o"}, {Name: "o"}},
				RetryConfig: &RetryConfig{MaxRetries: -1, ErrorStrategy: 7},
			}},
		},
	}

	errs := NewValidator().Validate(d)
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}

	assert.Contains(t, msgs, `node llm::2: parent "node-start::1" is not an iteration node`)
	assert.Contains(t, msgs, `node llm::2: input "a" references unknown node "ghost"`)
	assert.Contains(t, msgs, `node llm::2: duplicate input "a"`)
	assert.Contains(t, msgs, `node llm::2: input "b" has malformed reference`)
	assert.Contains(t, msgs, `node llm::2: input "c" has invalid value type "weird"`)
	assert.Contains(t, msgs, `node llm::2: duplicate output "o"`)
	assert.Contains(t, msgs, "node llm::2: maxRetries must not be negative")
	assert.Contains(t, msgs, "node llm::2: invalid errorStrategy 7")
}

func TestDecodeParam(t *testing.T) {
	node := NodeDef{ID: "text-joiner::1", Data: NodeData{NodeParam: map[string]any{"mode": float64(1), "separator": ","}}}

	var p struct {
		Mode      int    `json:"mode"`
		Separator string `json:"separator"`
	}
	require.NoError(t, DecodeParam(node, &p))
	assert.Equal(t, 1, p.Mode)
	assert.Equal(t, ",", p.Separator)

	var bad struct {
		Mode string `json:"mode"`
	}
	err := DecodeParam(node, &bad)
	assert.True(t, types.IsCode(err, types.ErrNodeParamSchema))
}
