package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/soyeahso/easiwork/internal/domain"
)

// Tool is a capability the model can invoke during a run.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() json.RawMessage

	// Execute runs the tool. A returned error becomes an error result.
	Execute(ctx context.Context, input json.RawMessage) (domain.ToolResult, error)
}

// ToolDef is a serializable tool definition in provider wire format.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Toolbox holds available tools.
type Toolbox struct {
	tools map[string]Tool
}

// NewToolbox creates a toolbox with the given tools.
func NewToolbox(tools ...Tool) *Toolbox {
	tb := &Toolbox{tools: make(map[string]Tool)}
	for _, t := range tools {
		tb.Register(t)
	}
	return tb
}

// Register adds a tool, replacing any tool with the same name.
func (tb *Toolbox) Register(t Tool) {
	tb.tools[t.Name()] = t
}

// Get returns a tool by name.
func (tb *Toolbox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (tb *Toolbox) Len() int { return len(tb.tools) }

// Definitions returns tool definitions sorted by name.
func (tb *Toolbox) Definitions() []ToolDef {
	defs := make([]ToolDef, 0, len(tb.tools))
	for _, t := range tb.tools {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool. Failures are reported as error results so the
// model can see them.
func (tb *Toolbox) Execute(ctx context.Context, name string, input json.RawMessage) domain.ToolResult {
	t, ok := tb.tools[name]
	if !ok {
		return domain.ToolResult{Error: fmt.Sprintf("unknown tool: %s", name)}
	}
	res, err := t.Execute(ctx, input)
	if err != nil {
		return domain.ToolResult{Error: err.Error()}
	}
	return res
}
