// Package tools holds the structured-output tools offered to the model.
// A tool call is how the model returns an answer; the tool validates it.
package tools

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Tool is a structured-output capability offered to the model. The model
// "calls" the tool with its answer; Execute checks that answer and returns
// the canonical JSON the caller decodes.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// ToolDef is the provider-neutral tool definition sent with a request.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ErrUnknownTool is returned by Call for a name that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry holds the tools for one kind of request.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names are unique within a registry.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.New("tool must have a name")
	}
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister is Register for tools built into the binary.
func (r *Registry) MustRegister(t Tool) *Registry {
	if err := r.Register(t); err != nil {
		panic(err)
	}
	return r
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call executes the named tool with the model's input.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, input)
}

// ToToolDefs returns the tool definitions sorted by name so prompts are stable across calls.
func (r *Registry) ToToolDefs() []ToolDef {
	out := make([]ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Def(t))
	}
	slices.SortFunc(out, func(a, b ToolDef) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Def returns the definition of a single tool.
func Def(t Tool) ToolDef {
	return ToolDef{Name: t.Name(), Description: t.Description(), InputSchema: t.Parameters()}
}
