package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopstate/agentcore/model"
)

func TestEncodeDecodeInstanceRoundTrip(t *testing.T) {
	in := &Instance{
		Subject: "run-1",
		Messages: []model.Message{
			model.NewTextMessage(model.RoleUser, "hello"),
			{
				Role: model.RoleAssistant,
				Parts: []model.Part{
					model.ToolUsePart{ID: "t1", Name: "com.calculator.execute", Input: map[string]any{"expression": "2+2"}},
				},
			},
			{
				Role:  model.RoleUser,
				Parts: []model.Part{model.ToolResultPart{ToolUseID: "t1", Content: "4", IsError: false}},
			},
		},
		ToolInteractionCount:    1,
		MaxToolInteractionCount: 5,
		DelegatedBy:             []Identity{{Source: "agent:parent"}},
		PendingToolCalls:        []PendingToolCall{{ToolUseID: "t1", ReplyType: "com.calculator.execute.reply"}},
		CollectedResults: map[string]PendingToolResult{
			"t1": {ToolUseID: "t1", Content: "4", IsError: false},
		},
	}

	encoded, err := EncodeInstance(in)
	require.NoError(t, err)

	out, err := DecodeInstance(encoded)
	require.NoError(t, err)

	assert.Equal(t, in.Subject, out.Subject)
	assert.Equal(t, in.ToolInteractionCount, out.ToolInteractionCount)
	assert.Equal(t, in.MaxToolInteractionCount, out.MaxToolInteractionCount)
	assert.Equal(t, in.DelegatedBy, out.DelegatedBy)
	assert.Equal(t, in.PendingToolCalls, out.PendingToolCalls)
	assert.Equal(t, in.CollectedResults, out.CollectedResults)

	require.Len(t, out.Messages, 3)
	assert.Equal(t, "hello", out.Messages[0].TextContent())

	toolUses := out.Messages[1].ToolUses()
	require.Len(t, toolUses, 1)
	assert.Equal(t, "t1", toolUses[0].ID)
	assert.Equal(t, "com.calculator.execute", toolUses[0].Name)

	require.Len(t, out.Messages[2].Parts, 1)
	trp, ok := out.Messages[2].Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "t1", trp.ToolUseID)
	assert.Equal(t, "4", trp.Content)
}

func TestDecodeInstanceRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeInstance([]byte("not json"))
	assert.Error(t, err)
}
