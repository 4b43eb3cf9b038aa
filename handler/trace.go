package handler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/loopstate/agentcore/event"
)

// extractTraceContext restores the OTEL span context carried by an inbound
// event's traceHeaders, following the same otel.TextMapPropagator shape the
// retrieval pack's MCP caller uses to inject them
// (runtime/mcp/trace.go's injectTraceHeaders/addTraceMeta), inverted for
// the receiving side.
func extractTraceContext(ctx context.Context, h event.TraceHeaders) context.Context {
	carrier := propagation.MapCarrier{}
	if h.Traceparent != "" {
		carrier.Set("traceparent", h.Traceparent)
	}
	if h.Tracestate != "" {
		carrier.Set("tracestate", h.Tracestate)
	}
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// injectTraceContext renders the current OTEL span context as outbound
// traceHeaders for an emitted event.
func injectTraceContext(ctx context.Context) event.TraceHeaders {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return event.TraceHeaders{
		Traceparent: carrier.Get("traceparent"),
		Tracestate:  carrier.Get("tracestate"),
	}
}
