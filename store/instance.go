// Package store implements the Concurrent State Store: per-instance state
// persistence and mutual exclusion with graceful recovery from crashed lock
// holders (SPEC §4.3). The in-process MemoryStore deep-clones every record on
// every boundary crossing, following the clone-by-hand idiom of the
// retrieval pack's session store (goa-ai runtime/agent/session/inmem).
package store

import (
	"errors"

	"github.com/loopstate/agentcore/model"
)

// Identity names a self or delegator agent (SPEC §4.1 "self-identity
// block"/"delegator identity").
type Identity struct {
	Alias       string
	Source      string
	Description string
}

// Instance is one live agent workflow (SPEC §3 "Instance"). Subject is the
// globally unique key; Messages form a strict alternating transcript.
type Instance struct {
	Subject                 string
	Messages                []model.Message
	ToolInteractionCount    int
	MaxToolInteractionCount int
	DelegatedBy             []Identity

	// PendingToolCalls is the ordered list of external tool calls dispatched
	// by the last suspended iteration, in the order the LLM requested them
	// (SPEC §4.2 "Correlation"). The Resumable Handler consults this to
	// reassemble tool_result parts in request order once every reply has
	// arrived, since replies may be delivered across several separate
	// incoming events rather than all at once.
	PendingToolCalls []PendingToolCall
	// CollectedResults holds replies received so far, keyed by the
	// toolUseId each reply echoes back. Once every PendingToolCalls entry
	// has a matching key, collection is complete (SPEC §4.2 step 5b).
	CollectedResults map[string]PendingToolResult
}

// PendingToolCall is one outstanding external tool dispatch awaiting a reply
// (SPEC §4.2 "expected-reply-type counts").
type PendingToolCall struct {
	ToolUseID string
	ReplyType string
}

// PendingToolResult is a reply collected for one PendingToolCall, not yet
// merged into the instance's transcript (SPEC §4.2 step 5c-d).
type PendingToolResult struct {
	ToolUseID string
	Content   any
	IsError   bool
}

// Clone returns a deep copy sharing no mutable structure with the receiver,
// matching the Store's boundary-crossing contract (SPEC §4.3 "read(id) ...
// returns a deep clone").
func (in *Instance) Clone() *Instance {
	if in == nil {
		return nil
	}
	out := &Instance{
		Subject:                 in.Subject,
		ToolInteractionCount:    in.ToolInteractionCount,
		MaxToolInteractionCount: in.MaxToolInteractionCount,
	}
	if in.Messages != nil {
		out.Messages = make([]model.Message, len(in.Messages))
		for i, m := range in.Messages {
			out.Messages[i] = cloneMessage(m)
		}
	}
	if in.DelegatedBy != nil {
		out.DelegatedBy = append([]Identity(nil), in.DelegatedBy...)
	}
	if in.PendingToolCalls != nil {
		out.PendingToolCalls = append([]PendingToolCall(nil), in.PendingToolCalls...)
	}
	if in.CollectedResults != nil {
		out.CollectedResults = make(map[string]PendingToolResult, len(in.CollectedResults))
		for k, v := range in.CollectedResults {
			v.Content = cloneAny(v.Content)
			out.CollectedResults[k] = v
		}
	}
	return out
}

func cloneMessage(m model.Message) model.Message {
	out := model.Message{Role: m.Role}
	if m.Parts != nil {
		out.Parts = make([]model.Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = clonePart(p)
		}
	}
	return out
}

func clonePart(p model.Part) model.Part {
	switch v := p.(type) {
	case model.TextPart:
		return model.TextPart{Text: v.Text}
	case model.ToolUsePart:
		return model.ToolUsePart{ID: v.ID, Name: v.Name, Input: cloneAny(v.Input)}
	case model.ToolResultPart:
		return model.ToolResultPart{ToolUseID: v.ToolUseID, Content: cloneAny(v.Content), IsError: v.IsError}
	default:
		return p
	}
}

// cloneAny deep-clones arbitrarily nested primitives, arrays, and maps
// (SPEC §9 Open Question "Deep copy in the State Store"). Anything else
// (opaque structs produced by a provider adapter) is returned as-is: such
// values are immutable by convention once attached to a transcript.
func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAny(val)
		}
		return out
	default:
		return v
	}
}

// ApprovalRecord is a cached permission decision (SPEC §3 "Approval
// Record"). Value true MAY bypass future approval prompts for that tool in
// that scope.
type ApprovalRecord struct {
	Value   bool
	Comment string
}

// Error taxonomy for the State Store (SPEC §7).
var (
	// ErrLockUnavailable is returned when lock acquisition exhausts its
	// retries. Callers (the Handler, and ultimately the broker) should treat
	// this as retryable.
	ErrLockUnavailable = errors.New("store: lock unavailable")
)
