package tools

import "strings"

// FieldIssue represents a single validation issue surfaced from a tool input
// or a final output payload. The validate package sets Constraint to the
// JSON Schema validator's own message for the failing keyword; it is not
// mapped onto a fixed vocabulary.
//
// FieldIssue deliberately mirrors the schema validation error a model can act
// on: validators surface a slice of these instead of a bare string so the
// transcript carries enough structure for an LLM to self-correct precisely
// (SPEC_FULL.md "SUPPLEMENTED FEATURES" #1).
type FieldIssue struct {
	Field      string
	Constraint string
	// Allowed, MinLen, MaxLen, Pattern, and Format are optional extras; not
	// every constraint populates all of them.
	Allowed []string
	MinLen  *int
	MaxLen  *int
	Pattern string
	Format  string
}

// ValidationError carries a schema-validation failure for a tool input or a
// final output (SPEC §7 "ValidationError": non-fatal within budget,
// surfaced to the LLM). Schema is attached verbatim so the message appended
// to the transcript can show the LLM exactly what shape was expected
// (SPEC §4.1 step 5d: "carrying the schema and message").
type ValidationError struct {
	Schema  any
	Message string
	Issues  []FieldIssue
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AsUserText renders a ValidationError as the user-message text appended to
// the transcript for LLM self-correction (SPEC §4.1 step 4b and 5d), closing
// with an explicit retry instruction matching the retrieval pack's repair-
// prompt convention (runtime/mcp/retry.go's BuildRepairPrompt: "Redo the
// operation now with valid parameters").
func (e *ValidationError) AsUserText() string {
	var b strings.Builder
	b.WriteString("Validation failed: ")
	b.WriteString(e.Message)
	for _, issue := range e.Issues {
		b.WriteString("\n- ")
		b.WriteString(issue.Field)
		b.WriteString(": ")
		b.WriteString(issue.Constraint)
	}
	b.WriteString("\nRedo the operation now with valid parameters.")
	return b.String()
}
