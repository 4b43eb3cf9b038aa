// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API via github.com/sashabaranov/go-openai,
// adapted from the retrieval pack's OpenAI adapter (goa-ai
// features/model/openai) to the model.Request/model.Result contract
// (SPEC §6 "LLM adapter contract").
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loopstate/agentcore/model"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter, so callers can substitute a mock in tests.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API. It
// does not implement model.StreamingClient: Chat Completions streaming is
// not wired up here (callers needing streaming should use an adapter that
// does).
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a Client using the default go-openai HTTP
// client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Result, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	messages, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	request := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toolParams,
	}
	if req.ToolChoice != nil {
		request.ToolChoice = encodeToolChoice(req.ToolChoice)
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

func encodeMessages(req *model.Request) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var toolCalls []openai.ToolCall
		var textContent string
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				textContent += v.Text
			case model.ToolUsePart:
				args, err := json.Marshal(v.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: encode tool_use input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   v.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      v.Name,
						Arguments: string(args),
					},
				})
			case model.ToolResultPart:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    model.Stringify(v.Content),
					ToolCallID: v.ToolUseID,
				})
			}
		}
		if textContent == "" && len(toolCalls) == 0 {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: textContent, ToolCalls: toolCalls})
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %s schema: %w", def.Name, err)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out, nil
}

func encodeToolChoice(choice *model.ToolChoice) any {
	switch choice.Mode {
	case model.ToolChoiceNone:
		return "none"
	case model.ToolChoiceAny:
		return "required"
	case model.ToolChoiceTool:
		return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: choice.Name}}
	default:
		return "auto"
	}
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Result {
	if len(resp.Choices) == 0 {
		return &model.Result{Response: ""}
	}
	msg := resp.Choices[0].Message
	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if len(msg.ToolCalls) > 0 {
		requests := make([]model.ToolRequest, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			requests[i] = model.ToolRequest{
				ID:    call.ID,
				Type:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			}
		}
		return &model.Result{ToolRequests: requests, Usage: usage}
	}
	return &model.Result{Response: msg.Content, Usage: usage}
}
