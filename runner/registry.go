package runner

import (
	"context"
	"fmt"

	"github.com/loopstate/agentcore/mcpadapter"
	"github.com/loopstate/agentcore/tools"
)

// registry is the per-execution union of external and MCP tools, keyed by
// agentic name (SPEC §4.1 "Initialization phase"). It is local to one
// Runner invocation, never reused across executions (SPEC §9 "Global
// mutable configuration").
type registry struct {
	formatter *tools.NameFormatter
	byAgentic map[string]tools.Entry
	order     []string
}

// buildRegistry clears and rebuilds the tool registry for one invocation:
// it connects the optional MCP connection, takes the union of external and
// MCP tools, and assigns each a collision-free agentic name.
func buildRegistry(ctx context.Context, externalTools []tools.Definition, mcp mcpadapter.Connection, nameMaxLen int) (*registry, error) {
	reg := &registry{
		formatter: tools.NewNameFormatter(nameMaxLen),
		byAgentic: make(map[string]tools.Entry),
	}

	all := make([]tools.Definition, 0, len(externalTools))
	for _, def := range externalTools {
		def.Kind = tools.ServerKindExternal
		all = append(all, def)
	}

	if mcp != nil {
		if err := mcp.Connect(ctx); err != nil {
			return nil, fmt.Errorf("runner: mcp connect: %w", err)
		}
		descs, err := mcp.GetTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("runner: mcp get_tools: %w", err)
		}
		restricted := make(map[string]bool, len(mcp.RestrictedTools()))
		for _, name := range mcp.RestrictedTools() {
			restricted[name] = true
		}
		for _, d := range descs {
			all = append(all, tools.Definition{
				Name:             tools.Ident(d.Name),
				Description:      d.Description,
				InputSchema:      d.InputSchema,
				Kind:             tools.ServerKindMCP,
				RequiresApproval: restricted[d.Name],
			})
		}
	}

	seenRaw := make(map[tools.Ident]bool, len(all))
	for _, def := range all {
		if seenRaw[def.Name] {
			return nil, fmt.Errorf("%w: duplicate tool registration for %q", ErrConfig, def.Name)
		}
		seenRaw[def.Name] = true

		agentic, err := reg.formatter.Format(def.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		reg.byAgentic[agentic] = tools.Entry{Definition: def, AgenticName: agentic}
		reg.order = append(reg.order, agentic)
	}
	return reg, nil
}

// entries returns every registered tool in registration order.
func (r *registry) entries() []tools.Entry {
	out := make([]tools.Entry, 0, len(r.order))
	for _, agentic := range r.order {
		out = append(out, r.byAgentic[agentic])
	}
	return out
}

// resolveAgentic looks up a tool by its agentic (LLM-visible) name.
func (r *registry) resolveAgentic(agentic string) (tools.Entry, bool) {
	e, ok := r.byAgentic[agentic]
	return e, ok
}
