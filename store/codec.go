package store

import (
	"encoding/json"
	"fmt"

	"github.com/loopstate/agentcore/model"
)

// EncodeInstance renders an Instance as a self-describing JSON document
// suitable for an out-of-process backend (store/redisstore,
// store/mongostore). model.Part is a marker interface with no JSON
// discriminator of its own, so each part is tagged with its kind here
// rather than teaching the model package about wire encoding.
func EncodeInstance(in *Instance) ([]byte, error) {
	return json.Marshal(toWire(in))
}

// DecodeInstance reverses EncodeInstance.
func DecodeInstance(data []byte) (*Instance, error) {
	var w wireInstance
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("store: decode instance: %w", err)
	}
	return w.toInstance(), nil
}

type wireInstance struct {
	Subject                 string                       `json:"subject"`
	Messages                []wireMessage                `json:"messages,omitempty"`
	ToolInteractionCount    int                          `json:"toolInteractionCount"`
	MaxToolInteractionCount int                          `json:"maxToolInteractionCount"`
	DelegatedBy             []Identity                   `json:"delegatedBy,omitempty"`
	PendingToolCalls        []PendingToolCall            `json:"pendingToolCalls,omitempty"`
	CollectedResults        map[string]PendingToolResult `json:"collectedResults,omitempty"`
}

type wireMessage struct {
	Role  model.Role `json:"role"`
	Parts []wirePart `json:"parts,omitempty"`
}

type wirePart struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"toolUseId,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

const (
	kindText       = "text"
	kindToolUse    = "tool_use"
	kindToolResult = "tool_result"
)

func toWire(in *Instance) wireInstance {
	w := wireInstance{
		Subject:                 in.Subject,
		ToolInteractionCount:    in.ToolInteractionCount,
		MaxToolInteractionCount: in.MaxToolInteractionCount,
		DelegatedBy:             in.DelegatedBy,
		PendingToolCalls:        in.PendingToolCalls,
		CollectedResults:        in.CollectedResults,
	}
	if in.Messages != nil {
		w.Messages = make([]wireMessage, len(in.Messages))
		for i, m := range in.Messages {
			w.Messages[i] = toWireMessage(m)
		}
	}
	return w
}

func toWireMessage(m model.Message) wireMessage {
	wm := wireMessage{Role: m.Role}
	if m.Parts != nil {
		wm.Parts = make([]wirePart, len(m.Parts))
		for i, p := range m.Parts {
			wm.Parts[i] = toWirePart(p)
		}
	}
	return wm
}

func toWirePart(p model.Part) wirePart {
	switch v := p.(type) {
	case model.TextPart:
		return wirePart{Kind: kindText, Text: v.Text}
	case model.ToolUsePart:
		return wirePart{Kind: kindToolUse, ID: v.ID, Name: v.Name, Input: v.Input}
	case model.ToolResultPart:
		return wirePart{Kind: kindToolResult, ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError}
	default:
		return wirePart{Kind: kindText}
	}
}

func (w wireInstance) toInstance() *Instance {
	out := &Instance{
		Subject:                 w.Subject,
		ToolInteractionCount:    w.ToolInteractionCount,
		MaxToolInteractionCount: w.MaxToolInteractionCount,
		DelegatedBy:             w.DelegatedBy,
		PendingToolCalls:        w.PendingToolCalls,
		CollectedResults:        w.CollectedResults,
	}
	if w.Messages != nil {
		out.Messages = make([]model.Message, len(w.Messages))
		for i, wm := range w.Messages {
			out.Messages[i] = wm.toMessage()
		}
	}
	return out
}

func (wm wireMessage) toMessage() model.Message {
	m := model.Message{Role: wm.Role}
	if wm.Parts != nil {
		m.Parts = make([]model.Part, len(wm.Parts))
		for i, wp := range wm.Parts {
			m.Parts[i] = wp.toPart()
		}
	}
	return m
}

func (wp wirePart) toPart() model.Part {
	switch wp.Kind {
	case kindToolUse:
		return model.ToolUsePart{ID: wp.ID, Name: wp.Name, Input: wp.Input}
	case kindToolResult:
		return model.ToolResultPart{ToolUseID: wp.ToolUseID, Content: wp.Content, IsError: wp.IsError}
	default:
		return model.TextPart{Text: wp.Text}
	}
}
