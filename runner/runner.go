// Package runner implements the Agent Execution Loop (SPEC §4.1): the
// iterative controller that alternates LLM inference with tool execution,
// enforces a tool-call budget, validates inputs and outputs, prioritizes
// tool classes, and decides when to complete, suspend, or request human
// action. It re-architects the teacher's Temporal-coroutine loop
// (runtime/agent/runtime/workflow_loop.go, tool_calls.go) as a single
// synchronous Go function with goroutine fan-out for MCP calls, per
// SPEC §9 "Coroutine-style control flow in the Runner".
package runner

import (
	"context"
	"errors"

	"github.com/loopstate/agentcore/mcpadapter"
	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/tools"
	"github.com/loopstate/agentcore/validate"
)

// Error taxonomy for the Runner (SPEC §7).
var (
	// ErrConfig reports invalid contract wiring, name collisions, or
	// duplicate tool registrations — fatal at the start of an execution.
	ErrConfig = errors.New("runner: configuration error")
	// ErrCeilingExceeded reports that the hard iteration ceiling was
	// reached independent of the tool-interaction budget (SPEC §4.1 step
	// 6, SPEC §7 RuntimeError).
	ErrCeilingExceeded = errors.New("runner: iteration ceiling exceeded")
)

// Collaborators bundles every optional and required dependency a single
// Runner execution needs (SPEC §4.1 "Both operations accept").
type Collaborators struct {
	// LLM is the adapter invoked once per iteration. Required.
	LLM model.Client
	// ExternalTools are dispatched as outbound events; the Runner queues
	// them and suspends rather than executing them itself.
	ExternalTools []tools.Definition
	// MCP is an optional in-loop tool connection. When set, Connect and
	// GetTools run once during registry construction.
	MCP mcpadapter.Connection
	// Approvals is the optional approval cache consulted at the start of
	// every iteration for tools with RequiresApproval set.
	Approvals store.ApprovalCache
	// Self identifies this agent for approval-cache scoping and context
	// building.
	Self store.Identity
	// Delegator, if set, identifies the peer agent that delegated this
	// execution (SPEC_FULL.md SUPPLEMENTED FEATURES #4).
	Delegator *store.Identity
	// OutputFormat optionally constrains and validates the final response.
	OutputFormat *model.OutputFormat
	// ApprovalTools are human-review/approval tool descriptors. They are
	// registered as dispatchable external tools in addition to being
	// reported to the ContextBuilder separately, so the LLM can call them
	// directly (SPEC §8 scenario S4).
	ApprovalTools []tools.Definition
	// InputValidator, if set, checks external tool inputs against their
	// declared schema before queuing (SPEC §4.1 step 5d).
	InputValidator validate.InputValidator
	// OutputValidator, if set, checks the final response against
	// OutputFormat.Schema (SPEC §4.1 step 4b).
	OutputValidator validate.OutputValidator
	// ContextBuilder produces the per-iteration system prompt and message
	// list. When nil, a pass-through default is used.
	ContextBuilder ContextBuilder
	// Stream optionally receives best-effort streaming deltas.
	Stream StreamSink
	// MaxToolInteractions is the tool-call budget (default 5).
	MaxToolInteractions int
	// NameMaxLen bounds agentic tool names (default 64, matching the
	// strictest provider limit in the retrieval pack).
	NameMaxLen int
}

// InitParams begins a new execution from a fresh user message.
type InitParams struct {
	Collaborators
	UserMessage string
}

// ResumeParams continues an execution given an existing transcript and newly
// arrived tool results.
type ResumeParams struct {
	Collaborators
	Transcript           []model.Message
	ToolInteractionCount int
	ToolResults          []model.ToolResultPart
}

// Result is returned by both Init and Resume (SPEC §4.1 "Both return").
// Exactly one of Response or ToolRequests is non-nil.
type Result struct {
	Transcript           []model.Message
	ToolInteractionCount int
	Response             any
	ToolRequests         []model.ToolRequest
}

// Option configures a Runner.
type Option func(*Runner)

// WithIterationCeiling overrides the hard iteration ceiling (SPEC §4.1
// "recommended default 50").
func WithIterationCeiling(n int) Option {
	return func(r *Runner) { r.iterationCeiling = n }
}

// Runner is the Agent Execution Loop (SPEC §4.1).
type Runner struct {
	iterationCeiling int
}

// New constructs a Runner with the given options.
func New(opts ...Option) *Runner {
	r := &Runner{iterationCeiling: 50}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init begins a new execution from a fresh user message (SPEC §4.1
// "init(params) → result").
func (r *Runner) Init(ctx context.Context, p InitParams) (*Result, error) {
	transcript := []model.Message{model.NewTextMessage(model.RoleUser, p.UserMessage)}
	return r.run(ctx, p.Collaborators, transcript, 0)
}

// Resume continues an execution given an existing transcript and newly
// arrived tool results (SPEC §4.1 "resume(params) → result"). New tool
// results are merged into the trailing user message if the transcript
// already has one pending from a prior suspension (SPEC §8 invariant 1:
// one user message per round), otherwise a new user message is appended.
func (r *Runner) Resume(ctx context.Context, p ResumeParams) (*Result, error) {
	transcript := append([]model.Message(nil), p.Transcript...)
	if len(p.ToolResults) > 0 {
		parts := make([]model.Part, len(p.ToolResults))
		for i, tr := range p.ToolResults {
			parts[i] = tr
		}
		transcript = appendToolResults(transcript, parts)
	}
	return r.run(ctx, p.Collaborators, transcript, p.ToolInteractionCount)
}
