// Package validate implements JSON-Schema-backed input/output validators for
// the Runner (SPEC §4.1 steps 4b, 5d; SPEC §7 "ValidationError").
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loopstate/agentcore/tools"
)

// InputValidator checks a tool's raw JSON input against its declared schema.
// It returns nil when the input is valid. Runner.Init/Resume accept this as
// an optional collaborator (SPEC §4.1 "optional input validator").
type InputValidator func(ctx context.Context, toolName string, schema any, input json.RawMessage) *tools.ValidationError

// OutputValidator checks a produced response against the declared output
// schema. It receives whether the tool-call budget is exhausted; per SPEC
// §4.1 "Output validator wiring", it MUST return nil when exhausted is true
// so the partial response is accepted verbatim.
type OutputValidator func(ctx context.Context, response any, schema any, exhausted bool) *tools.ValidationError

// SchemaValidator compiles and caches github.com/santhosh-tekuri/jsonschema/v6
// schemas and exposes them as InputValidator/OutputValidator functions. It is
// safe for concurrent use.
type SchemaValidator struct {
	mu     sync.Mutex
	cache  map[string]*jsonschema.Schema
	compiler *jsonschema.Compiler
}

// New constructs an empty SchemaValidator.
func New() *SchemaValidator {
	return &SchemaValidator{
		cache:    make(map[string]*jsonschema.Schema),
		compiler: jsonschema.NewCompiler(),
	}
}

// ValidateInput implements InputValidator against an arbitrary JSON-Schema
// document (a map[string]any, json.RawMessage, or anything json.Marshal can
// encode).
func (v *SchemaValidator) ValidateInput(_ context.Context, toolName string, schema any, input json.RawMessage) *tools.ValidationError {
	compiled, err := v.compile(fmt.Sprintf("input:%s", toolName), schema)
	if err != nil {
		return &tools.ValidationError{Schema: schema, Message: fmt.Sprintf("invalid schema for tool %q: %v", toolName, err)}
	}
	return v.validateAgainst(compiled, schema, input)
}

// ValidateOutput implements OutputValidator. Per SPEC §4.1, callers must not
// invoke it when budget is already known to be exhausted at the call site,
// but it also enforces the contract defensively: when exhausted is true it
// always returns nil.
func (v *SchemaValidator) ValidateOutput(_ context.Context, response any, schema any, exhausted bool) *tools.ValidationError {
	if exhausted {
		return nil
	}
	if schema == nil {
		return nil
	}
	compiled, err := v.compile("output", schema)
	if err != nil {
		return &tools.ValidationError{Schema: schema, Message: fmt.Sprintf("invalid output schema: %v", err)}
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return &tools.ValidationError{Schema: schema, Message: fmt.Sprintf("response is not JSON-encodable: %v", err)}
	}
	return v.validateAgainst(compiled, schema, payload)
}

func (v *SchemaValidator) compile(key string, schema any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	resourceName := "mem://" + key
	if err := v.compiler.AddResource(resourceName, doc); err != nil {
		return nil, err
	}
	compiled, err := v.compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}

func (v *SchemaValidator) validateAgainst(compiled *jsonschema.Schema, schema any, payload json.RawMessage) *tools.ValidationError {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &tools.ValidationError{Schema: schema, Message: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	if err := compiled.Validate(inst); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &tools.ValidationError{Schema: schema, Message: err.Error()}
		}
		return &tools.ValidationError{Schema: schema, Message: ve.Error(), Issues: flatten(ve)}
	}
	return nil
}

func flatten(ve *jsonschema.ValidationError) []tools.FieldIssue {
	var out []tools.FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		field := "/"
		if len(e.InstanceLocation) > 0 {
			field = "/" + joinPath(e.InstanceLocation)
		}
		out = append(out, tools.FieldIssue{
			Field:      field,
			Constraint: e.Error(),
		})
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
