package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopstate/agentcore/mcpadapter"
	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/tools"
)

// scriptedLLM returns one pre-baked model.Result per call, in order.
type scriptedLLM struct {
	results []*model.Result
	calls   int
}

func (s *scriptedLLM) Complete(_ context.Context, _ *model.Request) (*model.Result, error) {
	if s.calls >= len(s.results) {
		return nil, errors.New("scriptedLLM: script exhausted")
	}
	r := s.results[s.calls]
	s.calls++
	return r, nil
}

func textResult(text string) *model.Result { return &model.Result{Response: text} }

func toolResult(id, name string, input any) *model.Result {
	raw, _ := json.Marshal(input)
	return &model.Result{ToolRequests: []model.ToolRequest{{ID: id, Type: name, Input: raw}}}
}

func newSelf() store.Identity { return store.Identity{Alias: "calc", Source: "agent:calculator"} }

// TestS1HappyPathSingleTool covers SPEC §8 scenario S1: a single external
// tool round-trips through a suspend/resume pair and the final response is
// returned verbatim.
func TestS1HappyPathSingleTool(t *testing.T) {
	ctx := context.Background()
	llm := &scriptedLLM{results: []*model.Result{
		toolResult("t1", "com_calculator_execute", map[string]any{"expression": "2+2"}),
	}}
	def := tools.Definition{Name: "com.calculator.execute", Description: "evaluate an expression"}

	r := New()
	res, err := r.Init(ctx, InitParams{
		Collaborators: Collaborators{LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf()},
		UserMessage:   "add 2 and 2",
	})
	require.NoError(t, err)
	require.Len(t, res.ToolRequests, 1)
	assert.Equal(t, "com.calculator.execute", res.ToolRequests[0].Type)
	assert.Equal(t, 1, res.ToolInteractionCount)

	llm.results = append(llm.results, textResult("4"))
	res2, err := r.Resume(ctx, ResumeParams{
		Collaborators:        Collaborators{LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf()},
		Transcript:           res.Transcript,
		ToolInteractionCount: res.ToolInteractionCount,
		ToolResults:          []model.ToolResultPart{{ToolUseID: "t1", Content: map[string]any{"result": 4}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", res2.Response)
	assert.Nil(t, res2.ToolRequests)
}

// TestS2BudgetExhaustion covers SPEC §8 scenario S2: once the budget is
// exhausted the output validator is skipped and the partial response is
// returned verbatim.
func TestS2BudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	def := tools.Definition{Name: "com.calculator.execute"}
	llm := &scriptedLLM{results: []*model.Result{
		toolResult("t1", "com_calculator_execute", map[string]any{"expression": "3+3"}),
		toolResult("t2", "com_calculator_execute", map[string]any{"expression": "3+4"}),
		textResult("Partial: I reached my limit; result so far is 7"),
	}}
	validatorCalled := false
	outputValidator := func(_ context.Context, _ any, _ any, exhausted bool) *tools.ValidationError {
		validatorCalled = true
		return nil
	}

	r := New()
	transcript := []model.Message{model.NewTextMessage(model.RoleUser, "compute things")}
	count := 0
	for i := 0; i < 2; i++ {
		res, err := r.Resume(ctx, ResumeParams{
			Collaborators: Collaborators{
				LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf(),
				MaxToolInteractions: 2, OutputValidator: outputValidator,
			},
			Transcript:           transcript,
			ToolInteractionCount: count,
		})
		require.NoError(t, err)
		require.Len(t, res.ToolRequests, 1)
		transcript = res.Transcript
		count = res.ToolInteractionCount
		transcript = appendToolResults(transcript, []model.Part{model.ToolResultPart{ToolUseID: res.ToolRequests[0].ID, Content: "ok"}})
	}
	require.Equal(t, 2, count)

	final, err := r.Resume(ctx, ResumeParams{
		Collaborators: Collaborators{
			LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf(),
			MaxToolInteractions: 2, OutputValidator: outputValidator,
		},
		Transcript:           transcript,
		ToolInteractionCount: count,
	})
	require.NoError(t, err)
	assert.Equal(t, "Partial: I reached my limit; result so far is 7", final.Response)
	assert.False(t, validatorCalled, "output validator must be skipped once budget is exhausted")
}

// TestS3ValidationSelfCorrection covers SPEC §8 scenario S3: an invalid tool
// input is rejected by the input validator, incrementing toolInteractionCount
// without queuing the external request, and the loop continues.
func TestS3ValidationSelfCorrection(t *testing.T) {
	ctx := context.Background()
	def := tools.Definition{Name: "com.calculator.execute", InputSchema: map[string]any{
		"type": "object", "required": []string{"expression"},
		"properties": map[string]any{"expression": map[string]any{"type": "string"}},
	}}
	llm := &scriptedLLM{results: []*model.Result{
		toolResult("bad1", "com_calculator_execute", map[string]any{"expr": "2+2"}),
		toolResult("good1", "com_calculator_execute", map[string]any{"expression": "2+2"}),
	}}
	validatorCalls := 0
	inputValidator := func(_ context.Context, _ string, _ any, input json.RawMessage) *tools.ValidationError {
		validatorCalls++
		var decoded map[string]any
		_ = json.Unmarshal(input, &decoded)
		if _, ok := decoded["expression"]; !ok {
			return &tools.ValidationError{Message: "missing required field", Issues: []tools.FieldIssue{{Field: "expression", Constraint: "missing_field"}}}
		}
		return nil
	}

	// Because a rejected external request is never queued, nothing external
	// suspends the loop after the first (invalid) attempt: it runs straight
	// through to the second, corrected attempt within one Init call.
	r := New()
	res, err := r.Init(ctx, InitParams{
		Collaborators: Collaborators{LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf(), InputValidator: inputValidator},
		UserMessage:   "add 2 and 2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolInteractionCount, "one increment for the rejected attempt, one for the corrected one")
	require.Len(t, res.ToolRequests, 1)
	assert.Equal(t, "good1", res.ToolRequests[0].ID)
	assert.Equal(t, 2, validatorCalls)
}

// TestS4ApprovalCache covers SPEC §8 scenario S4: a restricted tool is
// reported as restricted until the approval cache records value=true, after
// which it is treated as non-restricted.
func TestS4ApprovalCache(t *testing.T) {
	ctx := context.Background()
	def := tools.Definition{Name: "com.admin.delete", RequiresApproval: true}
	cache := store.NewMemoryApprovalCache()
	reg, err := buildRegistry(ctx, []tools.Definition{def}, nil, 64)
	require.NoError(t, err)

	descriptors, err := resolveApprovals(ctx, reg, cache, "agent:admin")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.True(t, descriptors[0].Restricted)

	require.NoError(t, cache.SetBatched(ctx, "agent:admin", map[string]bool{"com.admin.delete": true}))

	descriptors2, err := resolveApprovals(ctx, reg, cache, "agent:admin")
	require.NoError(t, err)
	assert.False(t, descriptors2[0].Restricted)
}

// fakeMCP is an in-memory mcpadapter.Connection for runner tests.
type fakeMCP struct {
	descs      []mcpadapter.ToolDescriptor
	invoke     func(req mcpadapter.InvokeRequest) (string, error)
	restricted []string
}

func (f *fakeMCP) Connect(context.Context) error    { return nil }
func (f *fakeMCP) Disconnect(context.Context) error { return nil }
func (f *fakeMCP) GetTools(context.Context) ([]mcpadapter.ToolDescriptor, error) {
	return f.descs, nil
}
func (f *fakeMCP) InvokeTool(_ context.Context, req mcpadapter.InvokeRequest) (string, error) {
	return f.invoke(req)
}
func (f *fakeMCP) RestrictedTools() []string { return f.restricted }

// TestS7MCPFailureInlining covers SPEC §8 scenario S7: an MCP invocation
// failure is inlined as an error tool_result instead of aborting the loop.
func TestS7MCPFailureInlining(t *testing.T) {
	ctx := context.Background()
	mcp := &fakeMCP{
		descs:  []mcpadapter.ToolDescriptor{{Name: "search.web"}},
		invoke: func(mcpadapter.InvokeRequest) (string, error) { return "", errors.New("connection reset") },
	}
	llm := &scriptedLLM{results: []*model.Result{
		toolResult("m1", "search_web", map[string]any{"query": "weather"}),
		textResult("Sorry, the search failed: connection reset"),
	}}

	r := New()
	res, err := r.Init(ctx, InitParams{
		Collaborators: Collaborators{LLM: llm, MCP: mcp, Self: newSelf()},
		UserMessage:   "search the weather",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, the search failed: connection reset", res.Response)

	last := res.Transcript[len(res.Transcript)-2]
	require.Len(t, last.Parts, 1)
	tr, ok := last.Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	assert.True(t, tr.IsError)
	assert.Equal(t, "connection reset", tr.Content)
}

// TestInvariantPrioritization covers SPEC §8 invariant 3: given priorities
// {0,0,1,2,2}, exactly the priority-2 requests are emitted.
func TestInvariantPrioritization(t *testing.T) {
	reg := &registry{byAgentic: map[string]tools.Entry{
		"a": {Definition: tools.Definition{Name: "a", Priority: 0}, AgenticName: "a"},
		"b": {Definition: tools.Definition{Name: "b", Priority: 0}, AgenticName: "b"},
		"c": {Definition: tools.Definition{Name: "c", Priority: 1}, AgenticName: "c"},
		"d": {Definition: tools.Definition{Name: "d", Priority: 2}, AgenticName: "d"},
		"e": {Definition: tools.Definition{Name: "e", Priority: 2}, AgenticName: "e"},
	}}
	requests := []model.ToolRequest{{ID: "1", Type: "a"}, {ID: "2", Type: "b"}, {ID: "3", Type: "c"}, {ID: "4", Type: "d"}, {ID: "5", Type: "e"}}

	selected := prioritize(requests, reg)
	require.Len(t, selected, 2)
	assert.Equal(t, "d", selected[0].Type)
	assert.Equal(t, "e", selected[1].Type)
}

// TestInvariantAlternation covers SPEC §8 invariant 1: appendToolResults
// merges into a trailing pending user message rather than ever leaving two
// consecutive user messages.
func TestInvariantAlternation(t *testing.T) {
	transcript := []model.Message{
		model.NewTextMessage(model.RoleUser, "hi"),
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "1", Name: "a"}, model.ToolUsePart{ID: "2", Name: "b"}}},
	}
	transcript = appendToolResults(transcript, []model.Part{model.ToolResultPart{ToolUseID: "1", Content: "r1"}})
	transcript = appendToolResults(transcript, []model.Part{model.ToolResultPart{ToolUseID: "2", Content: "r2"}})

	require.Len(t, transcript, 3)
	last := transcript[2]
	assert.Equal(t, model.RoleUser, last.Role)
	require.Len(t, last.Parts, 2)
	assert.Equal(t, "1", last.Parts[0].(model.ToolResultPart).ToolUseID)
	assert.Equal(t, "2", last.Parts[1].(model.ToolResultPart).ToolUseID)
}

// TestInvariantBudgetMonotonicity covers SPEC §8 invariant 2: the counter
// increments exactly once per tool-call iteration and once per output
// validation failure, never decreasing.
func TestInvariantBudgetMonotonicity(t *testing.T) {
	ctx := context.Background()
	def := tools.Definition{Name: "com.calculator.execute"}
	llm := &scriptedLLM{results: []*model.Result{
		toolResult("t1", "com_calculator_execute", map[string]any{"expression": "2+2"}),
	}}
	r := New()
	res, err := r.Init(ctx, InitParams{
		Collaborators: Collaborators{LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf()},
		UserMessage:   "go",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolInteractionCount)

	llm.results = append(llm.results, textResult("done"))
	failOnce := true
	outputValidator := func(_ context.Context, _ any, _ any, exhausted bool) *tools.ValidationError {
		if failOnce {
			failOnce = false
			return &tools.ValidationError{Message: "try again"}
		}
		return nil
	}
	llm.results = append(llm.results, textResult("done for real"))
	res2, err := r.Resume(ctx, ResumeParams{
		Collaborators: Collaborators{
			LLM: llm, ExternalTools: []tools.Definition{def}, Self: newSelf(),
			OutputValidator: outputValidator,
		},
		Transcript:           res.Transcript,
		ToolInteractionCount: res.ToolInteractionCount,
		ToolResults:          []model.ToolResultPart{{ToolUseID: "t1", Content: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res2.ToolInteractionCount)
	assert.Equal(t, "done for real", res2.Response)
}
