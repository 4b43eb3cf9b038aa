// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, adapted from the retrieval pack's Bedrock adapter
// (goa-ai features/model/bedrock) to the model.Request/model.Result
// contract (SPEC §6 "LLM adapter contract"). Thinking, prompt caching, and
// ledger rehydration are teacher-specific engine features outside this
// spec's scope and are not carried over (see DESIGN.md).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/loopstate/agentcore/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter, matching *bedrockruntime.Client so callers can
// substitute a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client from a Bedrock runtime client and options.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Result, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateOutput(output, parts.toolUseIDMap)
}

type requestParts struct {
	messages     []brtypes.Message
	system       []brtypes.SystemContentBlock
	toolConfig   *brtypes.ToolConfiguration
	toolUseIDMap map[string]string // provider-safe id -> original id
}

func (c *Client) prepareRequest(req *model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	toolConfig, err := encodeTools(req.Tools, req.ToolChoice)
	if err != nil {
		return nil, err
	}
	messages, idMap, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	parts := &requestParts{messages: messages, toolConfig: toolConfig, toolUseIDMap: idMap}
	if req.SystemPrompt != "" {
		parts.system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	return parts, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	set := false
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
		set = true
	}
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
		set = true
	}
	if !set {
		return nil
	}
	return cfg
}

// encodeMessages translates the transcript into Bedrock content blocks.
// toolUseId values must match [a-zA-Z0-9_-]+ and be <=64 chars; IDs that
// don't are remapped to a short synthetic id, tracked so the response
// translation step can map a synthetic id back to the original one. The same
// original id always remaps to the same synthetic id within one call, since
// a tool_use and its later tool_result must reference matching toolUseIds
// for Bedrock to accept the conversation.
func encodeMessages(msgs []model.Message) ([]brtypes.Message, map[string]string, error) {
	idMap := make(map[string]string)
	safeFor := make(map[string]string)
	nextID := 0
	toolUseIDFor := func(original string) string {
		if isProviderSafeToolUseID(original) {
			return original
		}
		if safe, ok := safeFor[original]; ok {
			return safe
		}
		nextID++
		safe := fmt.Sprintf("t%d", nextID)
		safeFor[original] = safe
		idMap[safe] = original
		return safe
	}

	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(toolUseIDFor(v.ID)),
					Name:      aws.String(v.Name),
					Input:     toDocument(v.Input),
				}})
			case model.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(toolUseIDFor(v.ToolUseID)),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: model.Stringify(v.Content)},
					},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, idMap, nil
}

func encodeTools(defs []model.ToolDefinition, choice *model.ToolChoice) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		if choice != nil {
			return nil, errors.New("bedrock: tool choice is set but no tools are defined")
		}
		return nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(def.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	cfg := &brtypes.ToolConfiguration{Tools: toolList}
	if choice == nil {
		return cfg, nil
	}
	switch choice.Mode {
	case "", model.ToolChoiceAuto:
	case model.ToolChoiceNone:
	case model.ToolChoiceAny:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case model.ToolChoiceTool:
		if choice.Name == "" {
			return nil, errors.New("bedrock: tool choice mode tool requires a name")
		}
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(choice.Name)}}
	default:
		return nil, fmt.Errorf("bedrock: unsupported tool choice mode %q", choice.Mode)
	}
	return cfg, nil
}

// isProviderSafeToolUseID reports whether id conforms to Bedrock's
// documented toolUseId constraints: pattern [a-zA-Z0-9_-]+, length <= 64.
func isProviderSafeToolUseID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func toDocument(schema any) document.Interface {
	if schema == nil {
		return document.NewLazyDocument(map[string]any{"type": "object"})
	}
	return document.NewLazyDocument(schema)
}

func translateOutput(output *bedrockruntime.ConverseOutput, idMap map[string]string) (*model.Result, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	var text string
	var requests []model.ToolRequest
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unexpected converse output shape")
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			name := aws.ToString(v.Value.Name)
			id := aws.ToString(v.Value.ToolUseId)
			if original, ok := idMap[id]; ok {
				id = original
			}
			payload := decodeDocument(v.Value.Input)
			requests = append(requests, model.ToolRequest{ID: id, Type: name, Input: payload})
		}
	}
	usage := model.TokenUsage{}
	if output.Usage != nil {
		usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	if len(requests) > 0 {
		return &model.Result{ToolRequests: requests, Usage: usage}, nil
	}
	return &model.Result{Response: text, Usage: usage}, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		return true
	default:
		return false
	}
}
