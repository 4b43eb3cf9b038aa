package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// ToolDefinition describes a tool exposed to the LLM. It is the registry
	// entry stripped of RequiresApproval, as required by SPEC §4.1 step 3
	// ("Invoke the LLM adapter with ... the tool registry stripped of
	// requiresApproval").
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolChoiceMode controls how a Request steers tool use.
	ToolChoiceMode string

	// ToolChoice optionally constrains tool-use behavior for a Request. A nil
	// ToolChoice on a Request lets the provider auto-select.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// ToolRequest is one tool invocation requested by the LLM (SPEC §3 "Tool
	// Request"): Type is the tool name. As returned by an LLM adapter it is
	// the agentic name the LLM chose; in a runner.Result the Runner has
	// replaced it with the raw identifier. Input is the arguments object.
	ToolRequest struct {
		ID    string
		Type  string
		Input json.RawMessage
	}

	// TokenUsage reports token consumption for one LLM call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// OutputFormat optionally constrains the shape of the final response via
	// a JSON Schema (SPEC §4.1 "optional output schema").
	OutputFormat struct {
		Name   string
		Schema any
	}

	// Request captures one LLM invocation (SPEC §6 "LLM adapter contract").
	Request struct {
		SystemPrompt string
		Messages     []Message
		Tools        []ToolDefinition
		ToolChoice   *ToolChoice
		OutputFormat *OutputFormat
		MaxTokens    int
		Temperature  float32
	}

	// Result is the outcome of one LLM invocation. Exactly one of Response or
	// ToolRequests is non-nil (SPEC §4.1 step 3, §6).
	Result struct {
		Response    any
		ToolRequests []ToolRequest
		Usage       TokenUsage
	}

	// Chunk is a streaming delta published to a StreamSink while the Runner
	// awaits a Result (SPEC §6: "Text streaming deltas MAY be published to
	// the event stream sink but MUST NOT affect the returned value's
	// semantics").
	Chunk struct {
		Type          ChunkType
		Text          string
		ToolCallDelta *ToolCallDelta
	}

	// ToolCallDelta carries an incremental tool-call input fragment while a
	// provider is still constructing the full JSON payload. It is a
	// best-effort UX signal only; the canonical payload is the ToolRequest
	// delivered in the final Result.
	ToolCallDelta struct {
		Name  string
		ID    string
		Delta string
	}

	// ChunkType classifies a streaming Chunk.
	ChunkType string

	// Client is the LLM adapter contract (SPEC §6). Implementations
	// translate Requests into provider calls and map responses back into
	// Result. See the llm/anthropic, llm/openai, and llm/bedrock packages for
	// reference implementations.
	Client interface {
		// Complete performs a non-streaming invocation.
		Complete(ctx context.Context, req *Request) (*Result, error)
	}

	// StreamingClient is optionally implemented by adapters that support
	// streaming. The Runner uses it only to forward Chunks to a StreamSink;
	// the returned Result remains authoritative regardless of streaming.
	StreamingClient interface {
		Client
		Stream(ctx context.Context, req *Request, sink func(Chunk)) (*Result, error)
	}
)

const (
	// ToolChoiceAuto lets the provider decide whether to call tools.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceNone disables tool use for the request.
	ToolChoiceNone ToolChoiceMode = "none"
	// ToolChoiceAny forces at least one tool call.
	ToolChoiceAny ToolChoiceMode = "any"
	// ToolChoiceTool forces the specific tool named by ToolChoice.Name.
	ToolChoiceTool ToolChoiceMode = "tool"
)

const (
	// ChunkTypeText identifies a chunk carrying assistant text.
	ChunkTypeText ChunkType = "text"
	// ChunkTypeToolCallDelta identifies a chunk carrying an incremental
	// tool-call input fragment.
	ChunkTypeToolCallDelta ChunkType = "tool_call_delta"
)

// ErrStreamingUnsupported indicates the provider adapter does not implement
// StreamingClient or does not support streaming for the given request.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting after exhausting any adapter-internal retries. Callers must treat
// this as a transient infrastructure failure (SPEC §7 RuntimeError), not
// retry in a tight loop.
var ErrRateLimited = errors.New("model: rate limited")
