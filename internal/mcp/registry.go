package mcp

import (
	"fmt"
	"sync"
)

// Registry is the in-memory tool catalog. Registration happens at process
// startup; after that the catalog is read-only, so the mutex only matters
// for the startup window and for tests.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry builds an empty catalog.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names and nil handlers are rejected.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Lookup returns the tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schema returns the public discovery record for one tool.
func (r *Registry) Schema(name string) (ToolSchema, bool) {
	tool, ok := r.Lookup(name)
	if !ok {
		return ToolSchema{}, false
	}
	return tool.Schema(), true
}

// Schemas returns discovery records for every tool in registration order.
func (r *Registry) Schemas() []ToolSchema {
	tools := r.List()
	out := make([]ToolSchema, 0, len(tools))
	for _, tool := range tools {
		out = append(out, tool.Schema())
	}
	return out
}

// Schema builds the JSON-Schema-shaped description of the tool's arguments.
func (t *Tool) Schema() ToolSchema {
	schema := InputSchema{
		Type:       "object",
		Properties: make(map[string]map[string]any, len(t.Parameters)),
		Required:   []string{},
	}
	for _, p := range t.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// =============================================================================
// Parameter helpers for registration sites
// =============================================================================

// StringParam declares a string parameter.
func StringParam(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeString, Description: description, Required: required}
}

// IntParam declares an integer parameter.
func IntParam(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeInteger, Description: description, Required: required}
}

// NumberParam declares a floating-point parameter.
func NumberParam(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeNumber, Description: description, Required: required}
}

// BoolParam declares a boolean parameter.
func BoolParam(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeBoolean, Description: description, Required: required}
}

// ObjectParam declares an object parameter.
func ObjectParam(name, description string, required bool) Parameter {
	return Parameter{Name: name, Type: TypeObject, Description: description, Required: required}
}

// EnumParam declares a string parameter restricted to a value set.
func EnumParam(name, description string, required bool, values ...any) Parameter {
	return Parameter{Name: name, Type: TypeString, Description: description, Required: required, Enum: values}
}
