package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/knowledge"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/tokenizer"
	"github.com/BaSui01/flowengine/sandbox"
	"github.com/BaSui01/flowengine/workflow/dsl"
	"github.com/BaSui01/flowengine/workflow/hitl"
)

// FlowLoader resolves the DSL of a sub-flow.
type FlowLoader interface {
	LoadFlow(ctx context.Context, flowID, appID, version string) (*dsl.WorkflowDSL, error)
}

// HistoryKey identifies one conversation thread of one node.
type HistoryKey struct {
	FlowID string
	NodeID string
	UID    string
	ChatID string
}

// HistoryStore persists chat turns for nodes with chat history enabled.
type HistoryStore interface {
	// Recent returns at most rounds user/assistant pairs, oldest first.
	Recent(ctx context.Context, key HistoryKey, rounds int) ([]llm.Message, error)
	Append(ctx context.Context, key HistoryKey, msgs ...llm.Message) error
}

// Metrics receives node and run outcomes. Status is a NodeStatus string.
type Metrics interface {
	RecordNode(kind string, status string, d time.Duration)
	RecordRun(status string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordNode(string, string, time.Duration) {}
func (noopMetrics) RecordRun(string, time.Duration)          {}

// Dependencies is the explicit collaborator set handed to the Builder.
// Collaborators a DSL does not need may be nil; the Builder rejects a DSL
// whose nodes need a missing one.
type Dependencies struct {
	Provider     llm.Provider
	Retriever    knowledge.Retriever
	CodeExecutor sandbox.CodeExecutor
	Events       hitl.Registry
	Flows        FlowLoader
	History      HistoryStore
	Metrics      Metrics
	Tracer       trace.Tracer
	Logger       *zap.Logger
	Config       *config.Config
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("flowengine/workflow")
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	return d
}

// projectHistory keeps the last rounds user/assistant pairs and then drops
// the oldest messages until the token count fits maxTokens. Zero disables
// the corresponding bound.
func projectHistory(history []llm.Message, rounds, maxTokens int, model string) []llm.Message {
	out := history
	if rounds > 0 && len(out) > rounds*2 {
		out = out[len(out)-rounds*2:]
	}
	if maxTokens > 0 && len(out) > 0 {
		tk := tokenizer.ForModel(model)
		for len(out) > 0 {
			n, err := tk.CountMessages(toTokenizerMessages(out))
			if err != nil || n <= maxTokens {
				break
			}
			out = out[1:]
		}
	}
	return append([]llm.Message(nil), out...)
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
