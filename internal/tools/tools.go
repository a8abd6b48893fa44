// Package tools defines the callable functions offered to the agent and
// the JSON schemas that advertise them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Schema describes a callable function: its name, a description for the
// model, and a JSON Schema for its arguments. It is the wire form the
// host runtime consumes.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Handler executes a tool call. The returned string is shown to the
// user as-is.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Schema
	Handler Handler `json:"-"`

	// InvalidArgs, when set, answers calls whose arguments are not valid
	// JSON instead of Execute returning an error.
	InvalidArgs func(err error) string `json:"-"`
}

// Registry holds available tools. It is populated at startup and read
// concurrently afterwards; Register must not be called once serving.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool by name with JSON-encoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			err = fmt.Errorf("invalid arguments: %w", err)
			if tool.InvalidArgs != nil {
				return tool.InvalidArgs(err), nil
			}
			return "", err
		}
	}

	return tool.Handler(ctx, args)
}

// StringArg returns args[key] when it is a non-empty string.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// StringSliceArg returns args[key] as a string slice. JSON arrays decode
// to []any, so each element is checked. A missing key is an error; an
// empty array is not.
func StringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s is required", key)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", key, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}
