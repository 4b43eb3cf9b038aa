// Package tools defines tool identity, registry metadata, and the
// bidirectional name formatter used to present raw tool names to an LLM.
package tools

// Ident is the strong type for a raw (unformatted) tool identifier, for
// example "com.calculator.execute". Use this type when referencing tools in
// maps or APIs to avoid accidental mixing with free-form strings.
type Ident string

// ServerKind classifies how a tool is executed.
type ServerKind string

const (
	// ServerKindExternal identifies a tool dispatched as an outbound event to
	// another handler. The Runner queues the request and suspends; it does not
	// execute the tool itself.
	ServerKindExternal ServerKind = "external"

	// ServerKindMCP identifies a tool invoked in-loop through an MCP
	// connection. The Runner awaits the result before the next LLM call.
	ServerKindMCP ServerKind = "mcp"
)

// ToolUnavailable is a runtime-owned identifier for a tool name that does not
// resolve in the registry. The Runner does not use it: its tool_result for an
// unknown tool carries the text "Tool does not exist: <name>".
const ToolUnavailable Ident = "runtime.tool_unavailable"
