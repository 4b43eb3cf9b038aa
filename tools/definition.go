package tools

// Definition describes a tool offered to the LLM before registration, as
// supplied by callers of Runner.Init/Resume (external tools) or discovered
// from an MCP connection's tool list.
//
// SPEC §3 "Tool Definition": name, description, inputSchema, serverKind,
// priority, requiresApproval. Priority and RequiresApproval default to their
// zero values (0, false) when unset by the caller (SPEC §4.1 step 4).
type Definition struct {
	// Name is the raw tool identifier, for example "com.calculator.execute".
	Name Ident
	// Description is shown to the LLM to decide when to call the tool.
	Description string
	// InputSchema is a JSON Schema describing the tool's input payload.
	InputSchema any
	// Kind classifies how the tool is executed. It is set by the Runner when
	// it merges external and MCP tool lists; callers supplying external tools
	// do not need to set it.
	Kind ServerKind
	// Priority groups concurrently requested tools for a single iteration;
	// only the highest-priority group present in a batch is dispatched
	// (SPEC §4.1 step 5b). Missing/zero means no special priority.
	Priority int
	// RequiresApproval marks the tool as subject to the approval cache
	// (SPEC §4.1 "Approval resolution").
	RequiresApproval bool
}

// Entry is a Definition bound to its agentic (LLM-visible) name within one
// Runner execution's tool registry.
type Entry struct {
	Definition
	AgenticName string
}
