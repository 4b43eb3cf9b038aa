// Package event defines the immutable envelope routed between handlers and
// the contract types that describe what a handler accepts and emits (SPEC §3
// "Event", §6 "Event envelope"/"Contracts"). Fields beyond the ones this
// package names pass through any concrete transport unchanged; this package
// never assumes a specific wire encoding.
package event

import "time"

// TraceHeaders carries W3C trace-context propagation fields (SPEC §6
// "traceHeaders: { traceparent?, tracestate? }"). The handler package's
// extractTraceContext and injectTraceContext functions use these the same way the retrieval pack's
// MCP caller injects them via otel's TextMapPropagator (runtime/mcp/trace.go).
type TraceHeaders struct {
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

// Event is the immutable envelope routed between handlers (SPEC §3 "Event").
// id is unique; subject is constant across a workflow instance; parentId
// references the causing event's id.
type Event struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Type         string         `json:"type"`
	Subject      string         `json:"subject"`
	ParentID     string         `json:"parentId,omitempty"`
	To           string         `json:"to,omitempty"`
	Data         any            `json:"data"`
	Domain       string         `json:"domain,omitempty"`
	TraceHeaders TraceHeaders   `json:"traceHeaders"`
	DataSchema   string         `json:"dataschema,omitempty"`
	Time         time.Time      `json:"time"`
	SpecVersion  string         `json:"specversion"`
	ExecutionUnits *float64     `json:"executionunits,omitempty"`
}

// Contract describes what one handler accepts and emits (SPEC §6
// "Contracts"). A Resumable contract additionally names a CompletionType.
// Version is pinned explicitly (e.g. "1.0.0"); the Runner and Handler always
// pin a single version per execution.
type Contract struct {
	URI            string
	Version        string
	AcceptedType   string
	EmittedTypes   []string
	CompletionType string
	Schemas        map[string]any
}

// Accepts reports whether typ is this contract's accepted event type.
func (c Contract) Accepts(typ string) bool {
	return c.AcceptedType == typ
}

// Emits reports whether typ is among this contract's declared emitted types.
func (c Contract) Emits(typ string) bool {
	for _, t := range c.EmittedTypes {
		if t == typ {
			return true
		}
	}
	return false
}
