package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable numeric code carried by every engine error.
// Zero means success; the terminal stream frame reports it verbatim.
type ErrorCode int

// Success is reported by a run that finished without a failed node.
const Success ErrorCode = 0

// Build-time error codes
const (
	ErrDSLParse        ErrorCode = 20001
	ErrDSLSchema       ErrorCode = 20002
	ErrNodeTypeUnknown ErrorCode = 20003
	ErrNodeParamSchema ErrorCode = 20004
	ErrFlowNotFound    ErrorCode = 20005
)

// Variable pool error codes
const (
	ErrVariableNotFound ErrorCode = 20101
	ErrVariableParse    ErrorCode = 20102
	ErrTemplateRender   ErrorCode = 20103
)

// Node execution error codes
const (
	ErrStartNodeSchema      ErrorCode = 20201
	ErrEndNodeExecution     ErrorCode = 20202
	ErrLLMRequest           ErrorCode = 20203
	ErrKnowledgeRequest     ErrorCode = 20204
	ErrCodeExecution        ErrorCode = 20205
	ErrCodeExecutionTimeout ErrorCode = 20206
	ErrSubFlowExecution     ErrorCode = 20207
	ErrIfElseCondition      ErrorCode = 20208
	ErrDecisionExecution    ErrorCode = 20209
	ErrIterationExecution   ErrorCode = 20210
	ErrMessageNodeExecution ErrorCode = 20211
	ErrNodeTimeout          ErrorCode = 20212
	ErrNodeSkipped          ErrorCode = 20213
)

// Interrupt / resume error codes
const (
	ErrEventNotFound    ErrorCode = 20301
	ErrEventTimeout     ErrorCode = 20302
	ErrInterruptAborted ErrorCode = 20303
	ErrEventRegistry    ErrorCode = 20304
)

// Generic error codes
const (
	ErrInternal           ErrorCode = 20901
	ErrInvalidRequest     ErrorCode = 20902
	ErrServiceUnavailable ErrorCode = 20903
)

var codeNames = map[ErrorCode]string{
	Success:                 "SUCCESS",
	ErrDSLParse:             "DSL_PARSE_ERROR",
	ErrDSLSchema:            "DSL_SCHEMA_ERROR",
	ErrNodeTypeUnknown:      "NODE_TYPE_UNKNOWN",
	ErrNodeParamSchema:      "NODE_PARAM_SCHEMA_ERROR",
	ErrFlowNotFound:         "FLOW_NOT_FOUND",
	ErrVariableNotFound:     "VARIABLE_NOT_FOUND",
	ErrVariableParse:        "VARIABLE_PARSE_ERROR",
	ErrTemplateRender:       "TEMPLATE_RENDER_ERROR",
	ErrStartNodeSchema:      "STM_NODE_SCHEMA_ERROR",
	ErrEndNodeExecution:     "END_NODE_EXECUTION_ERROR",
	ErrLLMRequest:           "LLM_REQUEST_ERROR",
	ErrKnowledgeRequest:     "KNOWLEDGE_REQUEST_ERROR",
	ErrCodeExecution:        "CODE_EXECUTION_ERROR",
	ErrCodeExecutionTimeout: "CODE_EXECUTION_TIMEOUT_ERROR",
	ErrSubFlowExecution:     "SUB_FLOW_EXECUTION_ERROR",
	ErrIfElseCondition:      "IF_ELSE_CONDITION_ERROR",
	ErrDecisionExecution:    "DECISION_EXECUTION_ERROR",
	ErrIterationExecution:   "ITERATION_EXECUTION_ERROR",
	ErrMessageNodeExecution: "MESSAGE_NODE_EXECUTION_ERROR",
	ErrNodeTimeout:          "NODE_TIMEOUT_ERROR",
	ErrNodeSkipped:          "NODE_SKIPPED",
	ErrEventNotFound:        "EVENT_NOT_FOUND",
	ErrEventTimeout:         "EVENT_TIMEOUT_ERROR",
	ErrInterruptAborted:     "INTERRUPT_ABORTED",
	ErrEventRegistry:        "EVENT_REGISTRY_ERROR",
	ErrInternal:             "INTERNAL_ERROR",
	ErrInvalidRequest:       "INVALID_REQUEST",
	ErrServiceUnavailable:   "SERVICE_UNAVAILABLE",
}

// String returns the symbolic name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// IsTimeout reports whether the code belongs to the timeout class.
func (c ErrorCode) IsTimeout() bool {
	return c == ErrCodeExecutionTimeout || c == ErrNodeTimeout || c == ErrEventTimeout
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	NodeID    string    `json:"node_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNode records the node the error originated from.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// CauseString returns the string form of the cause, or "" when there is none.
func (e *Error) CauseString() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap converts any error into a *Error. An existing *Error in the chain is
// returned as is; anything else is wrapped under the given code.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error. A nil error maps to
// Success and a foreign error to ErrInternal.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
