// Package handler implements the Resumable Handler (SPEC §4.2): the
// event-sourced wrapper that turns the stateless Runner into a stateful
// multi-turn agent by persisting the transcript between suspensions and
// reassembling newly arrived tool-result events into a Runner.Resume call.
//
// There is no direct teacher analog for this layer (goa-ai's equivalent
// control flow is threaded through Temporal workflow/activity boundaries,
// not a plain event-handler function per SPEC §9's re-architecture), so the
// control flow here is original to this package; its ambient pieces —
// structured logging, trace-context propagation, the tool-confirmation
// config shape — are grounded on the teacher files named per-field below.
package handler

import (
	"context"
	"errors"

	"github.com/loopstate/agentcore/event"
	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/runner"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/telemetry"
	"github.com/loopstate/agentcore/tools"
)

// ErrRetry signals a lock-acquisition failure; callers should raise a Retry
// error to the broker (SPEC §4.2 step 2).
var ErrRetry = errors.New("handler: lock acquisition failed")

// ErrUnexpectedEvent signals an incoming event that is neither a valid init
// (self-accept type, no instance record) nor a valid resume (instance
// present, type matches an outstanding reply or one of the configured
// SystemErrorReplyTypes) for its subject.
var ErrUnexpectedEvent = errors.New("handler: unexpected event for instance")

// ToolConfirmation renders a deterministic confirmation prompt and denial
// result for a specific tool, so a human denial produces a structured
// tool_result rather than a bare boolean gate (SPEC_FULL.md "SUPPLEMENTED
// FEATURES" #2, grounded on
// runtime/agent/runtime/confirmation.go's ToolConfirmation).
type ToolConfirmation struct {
	// Prompt renders the text shown to the approver for this call. Its
	// result is attached to the outbound tool-request event as
	// confirmationPrompt.
	Prompt func(ctx context.Context, req model.ToolRequest) (string, error)
	// DeniedResult constructs the tool_result content representing a
	// denial. The Handler attaches it to the original toolUseId with
	// IsError unset, matching the teacher's "attach with Error unset"
	// contract.
	DeniedResult func(ctx context.Context, req model.ToolRequest) (any, error)
}

// Options configures a Handler. There is exactly one Handler per agent
// contract; Collaborators is passed to every Runner.Init/Resume call for
// this agent unchanged.
type Options struct {
	// Runner drives the agent execution loop.
	Runner *runner.Runner
	// Collaborators is forwarded verbatim to every Runner.Init/Resume call.
	Collaborators runner.Collaborators
	// Store persists instance records and guards them with the per-id lock.
	Store store.Store
	// SelfContract names this agent's accepted/emitted event types and its
	// completion type (SPEC §6 "Contracts").
	SelfContract event.Contract
	// ReplyType maps a raw tool name to the event type expected as its
	// reply. Required; a fixed "<tool>.reply" convention is rarely right
	// for every transport, so callers supply it explicitly.
	ReplyType func(toolName string) string
	// ApprovalResponseType is the event type carrying a tool-approval
	// decision (SPEC §4.2 step 5a). When it arrives, its payload is
	// batch-written into Collaborators.Approvals before normal tool-result
	// collection proceeds.
	ApprovalResponseType string
	// SystemErrorReplyTypes marks reply event types that represent a
	// system-level (not tool-level) failure; their payload is converted
	// into a structured error tool_result annotated do-not-retry (SPEC §4.2
	// step 5c).
	SystemErrorReplyTypes map[string]bool
	// DomainRouting optionally routes a tool request event to a named
	// domain, keyed by raw tool name (SPEC §4.2 "emission rules").
	DomainRouting map[string]string
	// HumanInteractionDomains lists domains that approval/review tool
	// requests MUST be routed to when configured (SPEC §4.2 "emission
	// rules").
	HumanInteractionDomains []string
	// ToolConfirmations optionally overrides confirmation rendering per
	// tool, keyed by raw tool name.
	ToolConfirmations map[tools.Ident]*ToolConfirmation
	// IncludeHistoryInCompletion attaches the full message history to the
	// completion event's data when true (SPEC §4.2 "emission rules").
	IncludeHistoryInCompletion bool
	// Logger receives non-fatal warnings (e.g. a failed approval-cache
	// write, SPEC §4.2 step 5a "failures are logged but NOT fatal"). When
	// nil, a no-op logger is used.
	Logger telemetry.Logger
}

// Handler is the Resumable Handler (SPEC §4.2).
type Handler struct {
	opts Options
}

// New constructs a Handler. It returns an error if a required field is
// missing (SPEC §7 ConfigError).
func New(opts Options) (*Handler, error) {
	if opts.Runner == nil {
		return nil, errors.New("handler: Runner is required")
	}
	if opts.Store == nil {
		return nil, errors.New("handler: Store is required")
	}
	if opts.SelfContract.AcceptedType == "" || opts.SelfContract.CompletionType == "" {
		return nil, errors.New("handler: SelfContract must declare AcceptedType and CompletionType")
	}
	if opts.ReplyType == nil {
		return nil, errors.New("handler: ReplyType is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Handler{opts: opts}, nil
}
