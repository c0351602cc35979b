package workflow

import (
	"context"

	"github.com/BaSui01/flowengine/knowledge"
	"github.com/BaSui01/flowengine/types"
)

// runKnowledge retrieves the top chunks for the query input.
func (ec *EngineContext) runKnowledge(ctx context.Context, n *Node, p *KnowledgeParams, inputs map[string]any) NodeRunResult {
	query, ok := inputs["query"]
	if !ok && len(n.Inputs) > 0 {
		query = inputs[n.Inputs[0].Name]
	}

	resp, err := ec.deps.Retriever.TopK(ctx, &knowledge.TopKRequest{
		FlowID:    ec.flowID(),
		Query:     stringify(query),
		TopN:      p.TopN,
		RagType:   p.RagType,
		RepoIDs:   p.RepoIDs,
		DocIDs:    p.DocIDs,
		Threshold: p.Threshold,
		History:   ec.input.History,
	})
	if err != nil {
		return failed(err, types.ErrKnowledgeRequest, "knowledge retrieval failed")
	}
	if resp.Code != 0 {
		return failedErr(types.Errorf(types.ErrKnowledgeRequest, "knowledge service returned code %d: %s", resp.Code, resp.Message))
	}

	results := make([]any, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = r
	}
	return succeeded(map[string]any{n.firstOutput("results"): results})
}
