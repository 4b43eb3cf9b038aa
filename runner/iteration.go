package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loopstate/agentcore/mcpadapter"
	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/tools"
)

// run drives the main iteration (SPEC §4.1 "Main iteration"). It is shared
// by Init and Resume; the only difference between the two public operations
// is how the initial transcript and toolInteractionCount are assembled.
func (r *Runner) run(ctx context.Context, c Collaborators, transcript []model.Message, toolInteractionCount int) (*Result, error) {
	reg, err := buildRegistry(ctx, append(append([]tools.Definition(nil), c.ExternalTools...), c.ApprovalTools...), c.MCP, nameMaxLenOrDefault(c.NameMaxLen))
	if err != nil {
		return nil, err
	}

	maxToolInteractions := c.MaxToolInteractions
	if maxToolInteractions <= 0 {
		maxToolInteractions = 5
	}
	contextBuilder := c.ContextBuilder
	if contextBuilder == nil {
		contextBuilder = defaultContextBuilder
	}

	for iteration := 0; ; iteration++ {
		if iteration > r.iterationCeiling {
			return nil, fmt.Errorf("%w: exceeded %d iterations", ErrCeilingExceeded, r.iterationCeiling)
		}

		// Step 1: budget check.
		exhausted := toolInteractionCount >= maxToolInteractions
		if exhausted && c.Stream != nil {
			c.Stream.PublishBudgetExhausted(ctx)
		}

		// Approval resolution: restrict entries whose cached decision isn't
		// true (SPEC §4.1 "Approval resolution").
		descriptors, err := resolveApprovals(ctx, reg, c.Approvals, c.Self.Source)
		if err != nil {
			return nil, err
		}

		// Step 2: context build.
		built, err := contextBuilder(ctx, ContextInput{
			Transcript:           transcript,
			Self:                 c.Self,
			Delegator:            c.Delegator,
			Tools:                descriptors,
			ApprovalTools:        c.ApprovalTools,
			OutputFormat:         c.OutputFormat,
			ToolInteractionCount: toolInteractionCount,
			MaxToolInteractions:  maxToolInteractions,
			BudgetExhausted:      exhausted,
		})
		if err != nil {
			return nil, fmt.Errorf("runner: context build: %w", err)
		}

		// Step 3: LLM call.
		req := &model.Request{
			SystemPrompt: built.SystemPrompt,
			Messages:     built.Messages,
			Tools:        toModelDefinitions(reg.entries()),
			OutputFormat: c.OutputFormat,
		}
		result, err := callLLM(ctx, c.LLM, req, c.Stream)
		if err != nil {
			return nil, fmt.Errorf("runner: llm call: %w", err)
		}

		if len(result.ToolRequests) == 0 {
			// Step 4: finalization branch.
			transcript = append(transcript, model.NewTextMessage(model.RoleAssistant, model.Stringify(result.Response)))
			if c.OutputValidator != nil && !exhausted {
				if ve := c.OutputValidator(ctx, result.Response, outputSchema(c.OutputFormat), exhausted); ve != nil {
					transcript = append(transcript, model.NewTextMessage(model.RoleUser, ve.AsUserText()))
					toolInteractionCount++
					continue
				}
			}
			return &Result{
				Transcript:           transcript,
				ToolInteractionCount: toolInteractionCount,
				Response:             result.Response,
			}, nil
		}

		// Step 5: tool branch.
		toolInteractionCount++
		selected := prioritize(result.ToolRequests, reg)

		toolUseParts := make([]model.Part, len(selected))
		for i, req := range selected {
			toolUseParts[i] = model.ToolUsePart{ID: req.ID, Name: req.Type, Input: rawInput(req.Input)}
		}
		transcript = append(transcript, model.Message{Role: model.RoleAssistant, Parts: toolUseParts})

		var (
			immediate []model.Part
			external  []model.ToolRequest
			mcpReqs   []model.ToolRequest
		)
		for _, req := range selected {
			entry, ok := reg.resolveAgentic(req.Type)
			switch {
			case !ok:
				immediate = append(immediate, model.ToolResultPart{
					ToolUseID: req.ID,
					Content:   fmt.Sprintf("Tool does not exist: %s", req.Type),
					IsError:   true,
				})
			case entry.Kind == tools.ServerKindExternal:
				if c.InputValidator != nil && !exhausted {
					if ve := c.InputValidator(ctx, string(entry.Name), entry.InputSchema, req.Input); ve != nil {
						immediate = append(immediate, model.ToolResultPart{
							ToolUseID: req.ID,
							Content:   map[string]any{"schema": ve.Schema, "message": ve.Message, "issues": ve.Issues},
							IsError:   true,
						})
						continue
					}
				}
				external = append(external, model.ToolRequest{ID: req.ID, Type: string(entry.Name), Input: req.Input})
			case entry.Kind == tools.ServerKindMCP:
				mcpReqs = append(mcpReqs, model.ToolRequest{ID: req.ID, Type: string(entry.Name), Input: req.Input})
			}
		}

		mcpResults := invokeMCPParallel(ctx, c.MCP, mcpReqs)
		combined := append(immediate, mcpResults...)
		if len(combined) > 0 {
			transcript = appendToolResults(transcript, combined)
		}

		if len(external) > 0 {
			return &Result{
				Transcript:           transcript,
				ToolInteractionCount: toolInteractionCount,
				ToolRequests:         external,
			}, nil
		}
		// Step 5g: continue the loop with the new transcript.
	}
}

// resolveApprovals batches a GetBatched lookup across every registry entry
// requiring approval and returns per-entry descriptors reflecting the
// effective restriction for this iteration (SPEC §4.1 "Approval
// resolution").
func resolveApprovals(ctx context.Context, reg *registry, cache store.ApprovalCache, scope string) ([]ToolDescriptor, error) {
	entries := reg.entries()
	out := make([]ToolDescriptor, len(entries))
	for i, e := range entries {
		out[i] = ToolDescriptor{Entry: e, Restricted: e.RequiresApproval}
	}
	if cache == nil {
		return out, nil
	}
	var names []string
	for _, e := range entries {
		if e.RequiresApproval {
			names = append(names, string(e.Name))
		}
	}
	if len(names) == 0 {
		return out, nil
	}
	decisions, err := cache.GetBatched(ctx, scope, names)
	if err != nil {
		return nil, fmt.Errorf("runner: approval lookup: %w", err)
	}
	for i, e := range entries {
		if rec, ok := decisions[string(e.Name)]; ok && rec.Value {
			out[i].Restricted = false
		}
	}
	return out, nil
}

// prioritize groups requests by their registered priority (default 0 for
// unknown tools) and keeps only the highest-priority group, preserving
// original order (SPEC §4.1 step 5b).
func prioritize(requests []model.ToolRequest, reg *registry) []model.ToolRequest {
	best := 0
	first := true
	priorityOf := func(req model.ToolRequest) int {
		if e, ok := reg.resolveAgentic(req.Type); ok {
			return e.Priority
		}
		return 0
	}
	for _, req := range requests {
		p := priorityOf(req)
		if first || p > best {
			best = p
			first = false
		}
	}
	out := make([]model.ToolRequest, 0, len(requests))
	for _, req := range requests {
		if priorityOf(req) == best {
			out = append(out, req)
		}
	}
	return out
}

// invokeMCPParallel dispatches every MCP tool request concurrently and
// collects results into tool_result parts in request order, inlining
// failures rather than propagating them (SPEC §4.1 step 5d "MCP"/5e),
// grounded on the WaitGroup fan-out pattern in
// None9527-NGOClaw/gateway/internal/domain/service/agent_loop.go.
func invokeMCPParallel(ctx context.Context, conn mcpadapter.Connection, requests []model.ToolRequest) []model.Part {
	if len(requests) == 0 {
		return nil
	}
	out := make([]model.Part, len(requests))
	var wg sync.WaitGroup
	wg.Add(len(requests))
	for i, req := range requests {
		go func(i int, req model.ToolRequest) {
			defer wg.Done()
			content, err := conn.InvokeTool(ctx, mcpadapter.InvokeRequest{Name: req.Type, Arguments: req.Input})
			if err != nil {
				out[i] = model.ToolResultPart{ToolUseID: req.ID, Content: err.Error(), IsError: true}
				return
			}
			out[i] = model.ToolResultPart{ToolUseID: req.ID, Content: content}
		}(i, req)
	}
	wg.Wait()
	return out
}

// appendToolResults merges tool_result parts into the transcript's trailing
// pending user message if one is already there (e.g. immediate or MCP
// results appended before the run suspended for external requests, which
// Runner.Resume then completes), otherwise appends a new user
// message. This keeps every tool_use answered within a single user message
// per round, satisfying the strict alternation invariant across both
// in-loop combination and Runner.Resume's merge of newly arrived external
// results (SPEC §3 "Message alternation invariant", SPEC §8 invariant 1).
func appendToolResults(transcript []model.Message, results []model.Part) []model.Message {
	if len(transcript) > 0 {
		last := &transcript[len(transcript)-1]
		if last.Role == model.RoleUser && onlyToolResults(last.Parts) {
			last.Parts = append(last.Parts, results...)
			return transcript
		}
	}
	return append(transcript, model.Message{Role: model.RoleUser, Parts: results})
}

func onlyToolResults(parts []model.Part) bool {
	for _, p := range parts {
		if _, ok := p.(model.ToolResultPart); !ok {
			return false
		}
	}
	return true
}

func toModelDefinitions(entries []tools.Entry) []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(entries))
	for i, e := range entries {
		out[i] = model.ToolDefinition{Name: e.AgenticName, Description: e.Description, InputSchema: e.InputSchema}
	}
	return out
}

func outputSchema(f *model.OutputFormat) any {
	if f == nil {
		return nil
	}
	return f.Schema
}

func rawInput(raw json.RawMessage) any {
	var v any
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func nameMaxLenOrDefault(n int) int {
	if n <= 0 {
		return 64
	}
	return n
}
