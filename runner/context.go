package runner

import (
	"context"

	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/tools"
)

// ToolDescriptor is one registry entry as seen by a ContextBuilder, carrying
// the per-iteration effective restriction computed from the approval cache
// (SPEC §4.1 "Approval resolution").
type ToolDescriptor struct {
	tools.Entry
	Restricted bool
}

// ContextInput is everything a ContextBuilder needs to produce one
// iteration's system prompt and message list (SPEC §4.1 step 2 "Context
// build").
type ContextInput struct {
	Transcript           []model.Message
	Self                 store.Identity
	Delegator            *store.Identity
	Tools                []ToolDescriptor
	ApprovalTools        []tools.Definition
	OutputFormat         *model.OutputFormat
	ToolInteractionCount int
	MaxToolInteractions  int
	BudgetExhausted      bool
}

// ContextOutput is what a ContextBuilder produces.
type ContextOutput struct {
	SystemPrompt string
	Messages     []model.Message
}

// ContextBuilder is a pure function producing {systemPrompt?, messages} from
// the current iteration's inputs (SPEC §4.1: "The builder is pure; it MUST
// NOT mutate inputs."). Callers supply one the same way they supply
// InputValidator/OutputValidator; when nil, defaultContextBuilder is used.
type ContextBuilder func(ctx context.Context, in ContextInput) (ContextOutput, error)

// defaultContextBuilder passes the transcript through unchanged with no
// system prompt. It exists so Runner is usable without a caller-supplied
// prompt-construction strategy, which SPEC §1 explicitly scopes out ("any
// specific prompt content") of this core's concerns.
func defaultContextBuilder(_ context.Context, in ContextInput) (ContextOutput, error) {
	return ContextOutput{Messages: in.Transcript}, nil
}
