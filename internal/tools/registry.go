package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/squidbot/squidbot/pkg/models"
)

// Registry holds the registered tools and dispatches tool calls to them.
// It is the only place that stamps ToolCallID into results, so every result
// the loop sees is already correlated with its call.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
	defs    []models.ToolDefinition // memoised until the next Register
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any previous tool with the same name and
// invalidating the memoised definition list.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	r.schemas[name] = r.compileSchema(name, t.Schema())
	r.defs = nil
}

// Get returns the registered tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns the wire definitions of all registered tools in
// registration order. The list is memoised until the next Register; callers
// get their own slice and must not mutate the parameter maps.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defs == nil {
		r.defs = make([]models.ToolDefinition, 0, len(r.order))
		for _, name := range r.order {
			r.defs = append(r.defs, definition(r.tools[name]))
		}
	}
	return append([]models.ToolDefinition(nil), r.defs...)
}

// Dispatch runs the named registered tool and returns its result. Tool
// failures come back as error-valued results, never as a crash.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	return r.DispatchWith(ctx, call, nil)
}

// DispatchWith is Dispatch with per-call extra tools. Extras are consulted
// before the registry and are never registered, so a caller can bind
// session-scoped tools for a single run.
func (r *Registry) DispatchWith(ctx context.Context, call models.ToolCall, extras []Tool) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID}

	var (
		tool   Tool
		schema *jsonschema.Schema
	)
	for _, extra := range extras {
		if extra.Name() == call.Name {
			tool = extra
			schema = r.compileSchema(call.Name, extra.Schema())
			break
		}
	}
	if tool == nil {
		r.mu.RLock()
		tool = r.tools[call.Name]
		schema = r.schemas[call.Name]
		r.mu.RUnlock()
	}
	if tool == nil {
		result.IsError = true
		result.Content = fmt.Sprintf("Unknown tool: %s", call.Name)
		return result
	}

	if err := validateArgs(schema, call.Arguments); err != nil {
		result.IsError = true
		result.Content = fmt.Sprintf("Invalid arguments for %s: %s", call.Name, err)
		return result
	}

	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Debug("tool returned error", "tool", call.Name, "error", err)
		result.IsError = true
		result.Content = fmt.Sprintf("Error: %s", err)
		return result
	}
	result.Content = out
	return result
}

// compileSchema compiles a tool's parameter schema for dispatch-time
// validation. A schema that does not compile disables validation for that
// tool instead of blocking registration.
func (r *Registry) compileSchema(name string, raw map[string]any) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		r.logger.Warn("tool schema not serializable, skipping validation", "tool", name, "error", err)
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool:///" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(data))); err != nil {
		r.logger.Warn("tool schema rejected, skipping validation", "tool", name, "error", err)
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		r.logger.Warn("tool schema does not compile, skipping validation", "tool", name, "error", err)
		return nil
	}
	return schema
}

// validateArgs checks call arguments against a compiled schema. Arguments
// are round-tripped through JSON first so native Go values (ints from
// tests, typed numbers) validate the same as wire-decoded ones.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
