package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopstate/agentcore/event"
	"github.com/loopstate/agentcore/model"
	"github.com/loopstate/agentcore/runner"
	"github.com/loopstate/agentcore/store"
	"github.com/loopstate/agentcore/tools"
)

// Handle processes one incoming event end-to-end (SPEC §4.2 "Control flow
// per incoming event"): derive the instance key, acquire the lock, branch
// into init or resume, and release the lock unconditionally on every exit
// path.
func (h *Handler) Handle(ctx context.Context, in event.Event) ([]event.Event, error) {
	ctx = extractTraceContext(ctx, in.TraceHeaders)

	key := in.Subject
	ok, err := h.opts.Store.Lock(ctx, key)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %v", ErrRetry, err)
	}
	defer func() {
		if _, uerr := h.opts.Store.Unlock(ctx, key); uerr != nil {
			h.opts.Logger.Warn(ctx, "handler: unlock failed", "subject", key, "error", uerr)
		}
	}()

	inst, err := h.opts.Store.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("handler: read instance: %w", err)
	}

	switch {
	case inst == nil && h.opts.SelfContract.Accepts(in.Type):
		return h.handleInit(ctx, key, in)
	case inst != nil && (isExpectedReply(inst, in.Type) || h.opts.SystemErrorReplyTypes[in.Type]):
		return h.handleResume(ctx, key, inst, in)
	default:
		return nil, fmt.Errorf("%w: type=%q subject=%q", ErrUnexpectedEvent, in.Type, key)
	}
}

// handleInit implements SPEC §4.2 step 4 "Init path".
func (h *Handler) handleInit(ctx context.Context, key string, in event.Event) ([]event.Event, error) {
	msg := extractUserMessage(in.Data)
	res, err := h.opts.Runner.Init(ctx, runner.InitParams{
		Collaborators: h.opts.Collaborators,
		UserMessage:   msg,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: init: %w", err)
	}
	return h.persistAndEmit(ctx, key, res, nil)
}

// handleResume implements SPEC §4.2 step 5 "Resume path".
func (h *Handler) handleResume(ctx context.Context, key string, inst *store.Instance, in event.Event) ([]event.Event, error) {
	if h.opts.ApprovalResponseType != "" && in.Type == h.opts.ApprovalResponseType {
		h.applyApprovalResponse(ctx, in)
	}

	toolUseID := in.ParentID
	content, isErr := h.extractResultContent(ctx, in)
	if inst.CollectedResults == nil {
		inst.CollectedResults = make(map[string]store.PendingToolResult)
	}
	inst.CollectedResults[toolUseID] = store.PendingToolResult{ToolUseID: toolUseID, Content: content, IsError: isErr}

	if !allCollected(inst) {
		if err := h.opts.Store.Write(ctx, key, inst); err != nil {
			return nil, fmt.Errorf("handler: persist partial collection: %w", err)
		}
		return nil, nil
	}

	results := make([]model.ToolResultPart, len(inst.PendingToolCalls))
	for i, call := range inst.PendingToolCalls {
		r := inst.CollectedResults[call.ToolUseID]
		results[i] = model.ToolResultPart{ToolUseID: r.ToolUseID, Content: r.Content, IsError: r.IsError}
	}

	res, err := h.opts.Runner.Resume(ctx, runner.ResumeParams{
		Collaborators:        h.opts.Collaborators,
		Transcript:           inst.Messages,
		ToolInteractionCount: inst.ToolInteractionCount,
		ToolResults:          results,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: resume: %w", err)
	}
	return h.persistAndEmit(ctx, key, res, inst.DelegatedBy)
}

// persistAndEmit writes the updated instance and implements SPEC §4.2
// "Emission rules".
func (h *Handler) persistAndEmit(ctx context.Context, key string, res *runner.Result, delegatedBy []store.Identity) ([]event.Event, error) {
	if res.Response != nil {
		if err := h.opts.Store.Cleanup(ctx, key); err != nil {
			return nil, fmt.Errorf("handler: cleanup: %w", err)
		}
		return []event.Event{h.completionEvent(ctx, key, res)}, nil
	}

	inst := &store.Instance{
		Subject:                 key,
		Messages:                res.Transcript,
		ToolInteractionCount:    res.ToolInteractionCount,
		MaxToolInteractionCount: h.opts.Collaborators.MaxToolInteractions,
		DelegatedBy:             delegatedBy,
		PendingToolCalls:        make([]store.PendingToolCall, len(res.ToolRequests)),
	}
	for i, req := range res.ToolRequests {
		inst.PendingToolCalls[i] = store.PendingToolCall{ToolUseID: req.ID, ReplyType: h.opts.ReplyType(req.Type)}
	}
	if err := h.opts.Store.Write(ctx, key, inst); err != nil {
		return nil, fmt.Errorf("handler: persist: %w", err)
	}
	return h.toolRequestEvents(ctx, key, res.ToolRequests), nil
}

func (h *Handler) completionEvent(ctx context.Context, key string, res *runner.Result) event.Event {
	data := map[string]any{"response": res.Response}
	if h.opts.IncludeHistoryInCompletion {
		data["history"] = res.Transcript
	}
	return event.Event{
		ID:           uuid.NewString(),
		Source:       h.opts.Collaborators.Self.Source,
		Type:         h.opts.SelfContract.CompletionType,
		Subject:      key,
		Data:         data,
		TraceHeaders: injectTraceContext(ctx),
		Time:         time.Now().UTC(),
		SpecVersion:  h.opts.SelfContract.Version,
	}
}

// toolRequestEvents emits one event per request (SPEC §4.2 "emission
// rules"), with the event's own ID set to the LLM-issued toolUseId so a
// reply can echo it back via ParentID (SPEC §4.2 "Correlation").
func (h *Handler) toolRequestEvents(ctx context.Context, key string, reqs []model.ToolRequest) []event.Event {
	out := make([]event.Event, len(reqs))
	for i, req := range reqs {
		data := decodeInputMap(req.Input)
		data["parentSubject"] = key
		if tc := h.opts.ToolConfirmations[tools.Ident(req.Type)]; tc != nil && tc.Prompt != nil {
			if prompt, err := tc.Prompt(ctx, req); err == nil {
				data["confirmationPrompt"] = prompt
			}
		}
		out[i] = event.Event{
			ID:           req.ID,
			Source:       h.opts.Collaborators.Self.Source,
			Type:         req.Type,
			Subject:      key,
			Data:         data,
			Domain:       h.domainFor(req.Type),
			TraceHeaders: injectTraceContext(ctx),
			Time:         time.Now().UTC(),
			SpecVersion:  h.opts.SelfContract.Version,
		}
	}
	return out
}

func (h *Handler) domainFor(toolName string) string {
	if h.isApprovalTool(toolName) && len(h.opts.HumanInteractionDomains) > 0 {
		return h.opts.HumanInteractionDomains[0]
	}
	return h.opts.DomainRouting[toolName]
}

func (h *Handler) isApprovalTool(toolName string) bool {
	for _, def := range h.opts.Collaborators.ApprovalTools {
		if string(def.Name) == toolName {
			return true
		}
	}
	return false
}

func (h *Handler) applyApprovalResponse(ctx context.Context, in event.Event) {
	cache := h.opts.Collaborators.Approvals
	if cache == nil {
		return
	}
	name, approved, ok := decodeApprovalDecision(in.Data)
	if !ok {
		return
	}
	if err := cache.SetBatched(ctx, h.opts.Collaborators.Self.Source, map[string]bool{name: approved}); err != nil {
		h.opts.Logger.Warn(ctx, "handler: approval batch write failed", "tool", name, "error", err)
	}
}

// extractResultContent implements SPEC §4.2 step 5c: system-error reply
// types are converted into a structured error tool_result annotated
// do-not-retry; everything else is forwarded verbatim, with a configured
// ToolConfirmation's DeniedResult substituted on an explicit denial.
func (h *Handler) extractResultContent(ctx context.Context, in event.Event) (any, bool) {
	if h.opts.SystemErrorReplyTypes[in.Type] {
		return map[string]any{
			"error":   in.Data,
			"retry":   false,
			"message": "do not retry: system error",
		}, true
	}
	if tc := h.confirmationForReply(in); tc != nil && tc.DeniedResult != nil && isDenied(in.Data) {
		if result, err := tc.DeniedResult(ctx, model.ToolRequest{ID: in.ParentID, Type: in.Type}); err == nil {
			return result, false
		}
	}
	return in.Data, false
}

func (h *Handler) confirmationForReply(in event.Event) *ToolConfirmation {
	for name, tc := range h.opts.ToolConfirmations {
		if h.opts.ReplyType(string(name)) == in.Type {
			return tc
		}
	}
	return nil
}

func isExpectedReply(inst *store.Instance, typ string) bool {
	for _, call := range inst.PendingToolCalls {
		if call.ReplyType == typ {
			return true
		}
	}
	return false
}

func allCollected(inst *store.Instance) bool {
	for _, call := range inst.PendingToolCalls {
		if _, ok := inst.CollectedResults[call.ToolUseID]; !ok {
			return false
		}
	}
	return true
}

func isDenied(data any) bool {
	m, ok := data.(map[string]any)
	if !ok {
		return false
	}
	approved, ok := m["approved"].(bool)
	return ok && !approved
}

func decodeApprovalDecision(data any) (name string, approved bool, ok bool) {
	m, isMap := data.(map[string]any)
	if !isMap {
		return "", false, false
	}
	toolName, hasName := m["tool"].(string)
	value, hasValue := m["approved"].(bool)
	if !hasName || !hasValue {
		return "", false, false
	}
	return toolName, value, true
}

func extractUserMessage(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return model.Stringify(data)
}

func decodeInputMap(raw json.RawMessage) map[string]any {
	out := make(map[string]any)
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"input": string(raw)}
	}
	return out
}
