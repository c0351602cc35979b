package workflow

import (
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// NodeKind is the closed set of node types the engine can execute.
type NodeKind string

const (
	KindStart          NodeKind = "node-start"
	KindEnd            NodeKind = "node-end"
	KindMessage        NodeKind = "message"
	KindLLM            NodeKind = "spark-llm"
	KindKnowledge      NodeKind = "knowledge-base"
	KindCode           NodeKind = "ifly-code"
	KindFlow           NodeKind = "flow"
	KindTextJoiner     NodeKind = "text-joiner"
	KindIfElse         NodeKind = "if-else"
	KindDecision       NodeKind = "decision-making"
	KindQuestionAnswer NodeKind = "question-answer"
	KindIteration      NodeKind = "iteration"
	KindIterationStart NodeKind = "iteration-node-start"
	KindIterationEnd   NodeKind = "iteration-node-end"
)

var knownKinds = map[NodeKind]struct{}{
	KindStart: {}, KindEnd: {}, KindMessage: {}, KindLLM: {}, KindKnowledge: {},
	KindCode: {}, KindFlow: {}, KindTextJoiner: {}, KindIfElse: {}, KindDecision: {},
	KindQuestionAnswer: {}, KindIteration: {}, KindIterationStart: {}, KindIterationEnd: {},
}

// ParseNodeKind maps a DSL node type prefix to a NodeKind.
func ParseNodeKind(s string) (NodeKind, bool) {
	k := NodeKind(s)
	_, ok := knownKinds[k]
	return k, ok
}

// isBranching reports whether the kind selects outgoing handles.
func (k NodeKind) isBranching() bool {
	return k == KindIfElse || k == KindDecision
}

// isTerminal reports whether the kind always terminates a (sub)graph.
func (k NodeKind) isTerminal() bool {
	return k == KindEnd || k == KindIterationEnd
}

// FailBranchHandle is the source handle activated by the fail-branch error strategy.
const FailBranchHandle = "fail_one_of"

// =============================================================================
// Typed node parameters
// =============================================================================

// NodeParams is implemented by exactly one parameter struct per NodeKind.
type NodeParams interface {
	nodeKind() NodeKind
}

// StartParams has no options; outputs are seeded from the run inputs.
type StartParams struct{}

// 输出模式
const (
	OutputModeVariable = 0
	OutputModePrompt   = 1
)

// EndParams configures the terminal sink.
type EndParams struct {
	OutputMode        int    `json:"outputMode"`
	Template          string `json:"template"`
	ReasoningTemplate string `json:"reasoningTemplate"`
	StreamOutput      bool   `json:"streamOutput"`
}

// MessageParams configures an intermediate message node.
type MessageParams struct {
	Template          string `json:"template"`
	ReasoningTemplate string `json:"reasoningTemplate"`
	StreamOutput      bool   `json:"streamOutput"`
}

// ChatHistoryV2 bounds the conversation history handed to a model or sub-flow.
type ChatHistoryV2 struct {
	IsEnabled bool `json:"isEnabled"`
	Rounds    int  `json:"rounds"`
	MaxTokens int  `json:"maxTokens"`
}

// LLMParams configures a chat node.
type LLMParams struct {
	Model               string         `json:"model"`
	Template            string         `json:"template"`
	SystemTemplate      string         `json:"systemTemplate"`
	Temperature         float32        `json:"temperature"`
	TopP                float32        `json:"topP"`
	MaxTokens           int            `json:"maxTokens"`
	SearchDisable       bool           `json:"searchDisable"`
	ExtraParams         map[string]any `json:"extraParams"`
	EnableChatHistoryV2 *ChatHistoryV2 `json:"enableChatHistoryV2"`
}

// KnowledgeParams configures a retrieval node.
type KnowledgeParams struct {
	TopN      int      `json:"topN"`
	RagType   string   `json:"ragType"`
	RepoIDs   []string `json:"repoId"`
	DocIDs    []string `json:"docIds"`
	Threshold float64  `json:"threshold"`
}

// CodeParams configures a code node. Timeout is in seconds.
type CodeParams struct {
	Language string  `json:"language"`
	Code     string  `json:"code"`
	Timeout  float64 `json:"timeout"`
	Executor string  `json:"executor"`
}

// FlowParams configures a sub-flow node.
type FlowParams struct {
	FlowID              string         `json:"flowId"`
	AppID               string         `json:"appId"`
	Version             string         `json:"version"`
	EnableChatHistoryV2 *ChatHistoryV2 `json:"enableChatHistoryV2"`
}

// 文本拼接模式
const (
	TextJoinerModeJoin     = 0
	TextJoinerModeSeparate = 1
)

// TextJoinerParams configures a text-joiner node.
type TextJoinerParams struct {
	Mode      int    `json:"mode"`
	Prompt    string `json:"prompt"`
	Separator string `json:"separator"`
}

// DefaultCaseLevel marks the else case of an if-else node.
const DefaultCaseLevel = 999

// IfElseParams configures a condition node.
type IfElseParams struct {
	Cases []IfElseCase `json:"cases"`
}

// IfElseCase is one branch. Either Conditions or Expression is used.
type IfElseCase struct {
	ID              string      `json:"id"`
	Level           int         `json:"level"`
	LogicalOperator string      `json:"logicalOperator"`
	Conditions      []Condition `json:"conditions"`
	Expression      string      `json:"expression"`

	compiled *dsl.Expr
}

// Condition compares two of the node's inputs by name.
type Condition struct {
	LeftVarIndex    string `json:"leftVarIndex"`
	RightVarIndex   string `json:"rightVarIndex"`
	CompareOperator string `json:"compareOperator"`
}

// 意图类型
const (
	IntentTypeDefault = 1
	IntentTypeNormal  = 2
)

// DecisionParams configures an intent classification node.
type DecisionParams struct {
	Model        string   `json:"model"`
	PromptPrefix string   `json:"promptPrefix"`
	Temperature  float32  `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
	IntentChains []Intent `json:"intentChains"`
}

// Intent is one decision class; its ID is the edge source handle.
type Intent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IntentType  int    `json:"intentType"`
}

// 问答类型
const (
	AnswerTypeDirect = "direct"
	AnswerTypeOption = "option"
)

// QuestionAnswerParams configures an interactive node. Timeout is in seconds.
type QuestionAnswerParams struct {
	Question      string     `json:"question"`
	AnswerType    string     `json:"answerType"`
	Options       []QAOption `json:"optionAnswer"`
	DefaultAnswer string     `json:"defaultAnswer"`
	Timeout       float64    `json:"timeout"`
}

// QAOption is a selectable answer.
type QAOption struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// IterationParams configures an iteration node.
type IterationParams struct {
	Concurrency int `json:"concurrency"`
}

// IterationStartParams seeds one element into the body.
type IterationStartParams struct{}

// IterationEndParams collects the body outputs of one element.
type IterationEndParams struct {
	OutputMode int    `json:"outputMode"`
	Template   string `json:"template"`
}

func (*StartParams) nodeKind() NodeKind          { return KindStart }
func (*EndParams) nodeKind() NodeKind            { return KindEnd }
func (*MessageParams) nodeKind() NodeKind        { return KindMessage }
func (*LLMParams) nodeKind() NodeKind            { return KindLLM }
func (*KnowledgeParams) nodeKind() NodeKind      { return KindKnowledge }
func (*CodeParams) nodeKind() NodeKind           { return KindCode }
func (*FlowParams) nodeKind() NodeKind           { return KindFlow }
func (*TextJoinerParams) nodeKind() NodeKind     { return KindTextJoiner }
func (*IfElseParams) nodeKind() NodeKind         { return KindIfElse }
func (*DecisionParams) nodeKind() NodeKind       { return KindDecision }
func (*QuestionAnswerParams) nodeKind() NodeKind { return KindQuestionAnswer }
func (*IterationParams) nodeKind() NodeKind      { return KindIteration }
func (*IterationStartParams) nodeKind() NodeKind { return KindIterationStart }
func (*IterationEndParams) nodeKind() NodeKind   { return KindIterationEnd }

// newParams returns the zero parameter struct for a kind.
func newParams(k NodeKind) NodeParams {
	switch k {
	case KindStart:
		return &StartParams{}
	case KindEnd:
		return &EndParams{}
	case KindMessage:
		return &MessageParams{}
	case KindLLM:
		return &LLMParams{}
	case KindKnowledge:
		return &KnowledgeParams{TopN: 3}
	case KindCode:
		return &CodeParams{Language: "python"}
	case KindFlow:
		return &FlowParams{}
	case KindTextJoiner:
		return &TextJoinerParams{}
	case KindIfElse:
		return &IfElseParams{}
	case KindDecision:
		return &DecisionParams{}
	case KindQuestionAnswer:
		return &QuestionAnswerParams{AnswerType: AnswerTypeDirect}
	case KindIteration:
		return &IterationParams{}
	case KindIterationStart:
		return &IterationStartParams{}
	case KindIterationEnd:
		return &IterationEndParams{}
	}
	return nil
}

// =============================================================================
// Node
// =============================================================================

// Node is an immutable, built instance of one DSL node.
type Node struct {
	ID               string
	Kind             NodeKind
	AliasName        string
	ParentID         string
	InputIdentifier  []string
	OutputIdentifier []string
	Inputs           []dsl.InputItem
	Outputs          []dsl.OutputItem
	Params           NodeParams
	Retry            *dsl.RetryConfig

	// body is the built sub-graph owned by an iteration node.
	body *staticGraph
}

// firstOutput returns the first declared output name, or fallback.
func (n *Node) firstOutput(fallback string) string {
	if len(n.OutputIdentifier) > 0 {
		return n.OutputIdentifier[0]
	}
	return fallback
}

func (n *Node) hasOutput(name string) bool {
	for _, o := range n.OutputIdentifier {
		if o == name {
			return true
		}
	}
	return false
}

func (n *Node) errorStrategy() int {
	if n.Retry == nil {
		return dsl.ErrorStrategyFail
	}
	return n.Retry.ErrorStrategy
}

// =============================================================================
// Node run result
// =============================================================================

// ResultKind discriminates NodeRunResult variants.
type ResultKind int

const (
	ResultSucceeded ResultKind = iota
	ResultFailed
	ResultSkipped
	ResultInterrupted
)

// nodeStatus is the terminal status a result of this kind settles into.
func (k ResultKind) nodeStatus() NodeStatus {
	switch k {
	case ResultSucceeded:
		return StatusSucceeded
	case ResultSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

func (k ResultKind) String() string {
	switch k {
	case ResultSucceeded:
		return "succeeded"
	case ResultFailed:
		return "failed"
	case ResultSkipped:
		return "skipped"
	case ResultInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// NodeRunResult is what a node executor returns. Expected control paths
// (skip, interrupt, collaborator failure) are variants, never panics.
type NodeRunResult struct {
	Kind    ResultKind
	Inputs  map[string]any
	Outputs map[string]any
	// Handles lists the selected outgoing source handles. Nil activates every
	// edge except the fail branch.
	Handles []string
	// Content and ReasoningContent are set by end and message nodes.
	Content          string
	ReasoningContent string
	Streamed         bool
	Usage            *llm.ChatUsage
	Err              *types.Error

	// noRetry is set once a failure must not be retried, e.g. after tokens
	// were already forwarded downstream.
	noRetry bool
}

func succeeded(outputs map[string]any) NodeRunResult {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return NodeRunResult{Kind: ResultSucceeded, Outputs: outputs}
}

func failed(err error, code types.ErrorCode, msg string) NodeRunResult {
	return NodeRunResult{Kind: ResultFailed, Err: types.Wrap(err, code, msg)}
}

func failedErr(e *types.Error) NodeRunResult {
	return NodeRunResult{Kind: ResultFailed, Err: e}
}

func interrupted(e *types.Error) NodeRunResult {
	return NodeRunResult{Kind: ResultInterrupted, Err: e}
}
