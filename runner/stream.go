package runner

import (
	"context"

	"github.com/loopstate/agentcore/model"
)

// StreamSink receives best-effort streaming updates published while the
// Runner awaits an LLM result (SPEC §6: "Text streaming deltas MAY be
// published to the event stream sink but MUST NOT affect the returned
// value's semantics"; SPEC_FULL.md SUPPLEMENTED FEATURES #5, grounded on
// runtime/agent/stream/stream.go's Sink interface). Implementations must be
// safe for concurrent use: a future Runner revision may publish tool-level
// progress from multiple in-flight MCP goroutines at once.
type StreamSink interface {
	// PublishText forwards an incremental assistant-text delta.
	PublishText(ctx context.Context, text string)
	// PublishToolCallDelta forwards an incremental tool-call input
	// fragment. This is a best-effort UX signal only.
	PublishToolCallDelta(ctx context.Context, delta model.ToolCallDelta)
	// PublishBudgetExhausted notifies that the tool-interaction budget was
	// exhausted at the start of the current iteration (SPEC §4.1 step 1:
	// "emit a tool.budget.exhausted stream event").
	PublishBudgetExhausted(ctx context.Context)
}

// callLLM invokes client, forwarding streaming deltas to sink when both the
// client implements model.StreamingClient and a sink is configured. The
// returned model.Result is authoritative regardless of whether streaming was
// used (SPEC §6).
func callLLM(ctx context.Context, client model.Client, req *model.Request, sink StreamSink) (*model.Result, error) {
	streaming, ok := client.(model.StreamingClient)
	if !ok || sink == nil {
		return client.Complete(ctx, req)
	}
	return streaming.Stream(ctx, req, func(chunk model.Chunk) {
		switch chunk.Type {
		case model.ChunkTypeText:
			sink.PublishText(ctx, chunk.Text)
		case model.ChunkTypeToolCallDelta:
			if chunk.ToolCallDelta != nil {
				sink.PublishToolCallDelta(ctx, *chunk.ToolCallDelta)
			}
		}
	})
}
