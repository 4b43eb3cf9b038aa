package bedrock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopstate/agentcore/model"
)

type stubRuntimeClient struct {
	lastInput *bedrockruntime.ConverseInput
	output    *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubRuntimeClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.output, s.err
}

func newTestClient(t *testing.T, stub *stubRuntimeClient) *Client {
	t.Helper()
	cl, err := New(Options{Runtime: stub, DefaultModel: "anthropic.claude-3-sonnet", MaxTokens: 256})
	require.NoError(t, err)
	return cl
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}}},
		},
	}
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubRuntimeClient{output: textOutput("hello there")}
	cl := newTestClient(t, stub)

	req := &model.Request{Messages: []model.Message{model.NewTextMessage(model.RoleUser, "hi")}}
	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Response)
}

func TestCompleteToolUseRoundTrip(t *testing.T) {
	stub := &stubRuntimeClient{}
	cl := newTestClient(t, stub)

	req := &model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, "call a tool")},
		Tools:    []model.ToolDefinition{{Name: "com.calculator.execute", Description: "evaluate", InputSchema: map[string]any{"type": "object"}}},
	}

	stub.output = &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String("tool-1"),
					Name:      aws.String("com.calculator.execute"),
					Input:     toDocument(map[string]any{"expression": "2+2"}),
				}},
			}},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolRequests, 1)
	assert.Equal(t, "tool-1", resp.ToolRequests[0].ID)
	assert.Equal(t, "com.calculator.execute", resp.ToolRequests[0].Type)

	require.NotNil(t, stub.lastInput.ToolConfig)
	require.Len(t, stub.lastInput.ToolConfig.Tools, 1)
}

func TestEncodeMessagesRemapsUnsafeToolUseID(t *testing.T) {
	unsafe := "tool use id with spaces/" + strings.Repeat("x", 80)
	msgs := []model.Message{
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: unsafe, Name: "com.calculator.execute", Input: map[string]any{}}}},
		{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{ToolUseID: unsafe, Content: "4"}}},
	}

	out, idMap, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 2)

	toolUse, ok := out[0].Content[0].(*brtypes.ContentBlockMemberToolUse)
	require.True(t, ok)
	safeID := aws.ToString(toolUse.Value.ToolUseId)
	assert.NotEqual(t, unsafe, safeID)
	assert.True(t, isProviderSafeToolUseID(safeID))
	assert.Equal(t, unsafe, idMap[safeID])

	toolResult, ok := out[1].Content[0].(*brtypes.ContentBlockMemberToolResult)
	require.True(t, ok)
	// the same original id must remap to the same synthetic id within one call
	assert.Equal(t, safeID, aws.ToString(toolResult.Value.ToolUseId))
}

func TestEncodeMessagesKeepsSafeToolUseID(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "tool-1", Name: "com.calculator.execute", Input: map[string]any{}}}},
	}
	out, idMap, err := encodeMessages(msgs)
	require.NoError(t, err)
	toolUse := out[0].Content[0].(*brtypes.ContentBlockMemberToolUse)
	assert.Equal(t, "tool-1", aws.ToString(toolUse.Value.ToolUseId))
	assert.Empty(t, idMap)
}

func TestTranslateOutputRestoresOriginalToolUseID(t *testing.T) {
	idMap := map[string]string{"t1": "tool use id with spaces"}
	output := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String("t1"),
					Name:      aws.String("com.calculator.execute"),
					Input:     toDocument(map[string]any{}),
				}},
			}},
		},
	}

	resp, err := translateOutput(output, idMap)
	require.NoError(t, err)
	require.Len(t, resp.ToolRequests, 1)
	assert.Equal(t, "tool use id with spaces", resp.ToolRequests[0].ID)
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                { return "api error: " + e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestIsRateLimitedDetectsThrottling(t *testing.T) {
	assert.True(t, isRateLimited(fakeAPIError{code: "ThrottlingException"}))
	assert.True(t, isRateLimited(fakeAPIError{code: "TooManyRequestsException"}))
	assert.False(t, isRateLimited(fakeAPIError{code: "ValidationException"}))
	assert.False(t, isRateLimited(nil))
}

func TestCompleteWrapsRateLimitedError(t *testing.T) {
	stub := &stubRuntimeClient{err: fakeAPIError{code: "ThrottlingException"}}
	cl := newTestClient(t, stub)

	req := &model.Request{Messages: []model.Message{model.NewTextMessage(model.RoleUser, "hi")}}
	_, err := cl.Complete(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

func TestRequiresMessages(t *testing.T) {
	cl := newTestClient(t, &stubRuntimeClient{})
	_, err := cl.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

// ensure the request helper round-trips a marshalable json.RawMessage input
// schema, since tool definitions commonly carry one.
func TestEncodeToolsAcceptsRawMessageSchema(t *testing.T) {
	defs := []model.ToolDefinition{{Name: "t", InputSchema: json.RawMessage(`{"type":"object"}`)}}
	cfg, err := encodeTools(defs, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Tools, 1)
}
