// Package model defines the provider-agnostic message, content-item, and LLM
// adapter contract types consumed by the Runner (SPEC §3 "Message"/"Content
// Item", §6 "LLM adapter contract").
package model

import "encoding/json"

// Role identifies the speaker for a Message. SPEC §3 constrains the
// transcript to a strict alternation of user and assistant messages; system
// instructions are carried out-of-band as Request.SystemPrompt rather than as
// a transcript role, matching how context builders in the retrieval pack
// (goa-ai runtime/agent/model) separate system prompts from the message list.
type Role string

const (
	// RoleUser identifies a user-authored message, including tool_result
	// content appended by the Runner after tool execution.
	RoleUser Role = "user"
	// RoleAssistant identifies an LLM-authored message, including tool_use
	// content requested by the LLM.
	RoleAssistant Role = "assistant"
)

// Part is a marker interface implemented by every content-item variant
// (SPEC §3 "Content Item": text | tool_use | tool_result).
type Part interface {
	isPart()
}

// TextPart is a plain text content item.
type TextPart struct {
	Text string
}

// ToolUsePart declares a tool invocation requested by the LLM. SPEC §3:
// "tool_use.id is unique within the transcript".
type ToolUsePart struct {
	ID    string
	Name  string
	Input any
}

// ToolResultPart carries the result of a previously requested tool_use. SPEC
// §3: "every tool_result references exactly one prior tool_use.id".
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single transcript turn (SPEC §3 "Message").
type Message struct {
	Role  Role
	Parts []Part
}

// TextContent concatenates every TextPart in the message, in order. It is
// used when a message must be rendered as a single string (SPEC §4.1 step
// 4a: "Append it to the transcript as an assistant text message (stringify
// if object)").
func (m Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolUses returns every ToolUsePart in the message, in order.
func (m Message) ToolUses() []ToolUsePart {
	var out []ToolUsePart
	for _, p := range m.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			out = append(out, tu)
		}
	}
	return out
}

// NewTextMessage builds a single-part text message for the given role.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Stringify renders an arbitrary response value as transcript text. Object
// responses are rendered as canonical JSON; strings pass through unchanged.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
