package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/squidbot/squidbot/pkg/models"
)

type fakeTool struct {
	name    string
	schema  map[string]any
	execute func(ctx context.Context, args map[string]any) (string, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool for tests" }

func (t *fakeTool) Schema() map[string]any {
	if t.schema != nil {
		return t.schema
	}
	return map[string]any{"type": "object"}
}

func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return "ok", nil
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryDispatch(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeTool{
		name: "echo",
		execute: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	})

	result := r.Dispatch(context.Background(), models.ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]any{"text": "world"},
	})
	if result.ToolCallID != "call-1" {
		t.Errorf("ToolCallID = %q, want call-1", result.ToolCallID)
	}
	if result.IsError {
		t.Errorf("IsError = true, want false: %s", result.Content)
	}
	if result.Content != "world" {
		t.Errorf("Content = %q, want world", result.Content)
	}
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r := newTestRegistry()
	result := r.Dispatch(context.Background(), models.ToolCall{ID: "c1", Name: "missing"})
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if result.Content != "Unknown tool: missing" {
		t.Errorf("Content = %q", result.Content)
	}
	if result.ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q, want c1", result.ToolCallID)
	}
}

func TestRegistryDispatchToolError(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeTool{
		name: "boom",
		execute: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaput")
		},
	})

	result := r.Dispatch(context.Background(), models.ToolCall{ID: "c2", Name: "boom"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if result.Content != "Error: kaput" {
		t.Errorf("Content = %q, want Error: kaput", result.Content)
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeTool{
		name: "typed",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"n": map[string]any{"type": "integer"},
			},
			"required": []string{"n"},
		},
	})

	t.Run("rejects wrong type", func(t *testing.T) {
		result := r.Dispatch(context.Background(), models.ToolCall{
			ID: "c3", Name: "typed", Arguments: map[string]any{"n": "three"},
		})
		if !result.IsError {
			t.Fatal("expected validation error result")
		}
		if !strings.Contains(result.Content, "Invalid arguments for typed") {
			t.Errorf("Content = %q", result.Content)
		}
	})

	t.Run("rejects missing required", func(t *testing.T) {
		result := r.Dispatch(context.Background(), models.ToolCall{ID: "c4", Name: "typed"})
		if !result.IsError {
			t.Fatal("expected validation error result")
		}
	})

	t.Run("accepts valid args", func(t *testing.T) {
		result := r.Dispatch(context.Background(), models.ToolCall{
			ID: "c5", Name: "typed", Arguments: map[string]any{"n": 3},
		})
		if result.IsError {
			t.Fatalf("unexpected error result: %s", result.Content)
		}
	})
}

func TestRegistryExtrasConsultedFirst(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeTool{
		name: "echo",
		execute: func(context.Context, map[string]any) (string, error) {
			return "from registry", nil
		},
	})
	extra := &fakeTool{
		name: "echo",
		execute: func(context.Context, map[string]any) (string, error) {
			return "from extra", nil
		},
	}

	result := r.DispatchWith(context.Background(), models.ToolCall{ID: "c6", Name: "echo"}, []Tool{extra})
	if result.Content != "from extra" {
		t.Errorf("Content = %q, want from extra", result.Content)
	}

	// Extras are per-call, never registered.
	if _, ok := r.Get("echo"); !ok {
		t.Fatal("registered tool disappeared")
	}
	result = r.Dispatch(context.Background(), models.ToolCall{ID: "c7", Name: "echo"})
	if result.Content != "from registry" {
		t.Errorf("Content = %q, want from registry", result.Content)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeTool{name: "alpha"})
	r.Register(&fakeTool{name: "beta"})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Errorf("definition order = %s, %s", defs[0].Name, defs[1].Name)
	}

	// Callers get their own slice.
	defs[0].Name = "mutated"
	again := r.Definitions()
	if again[0].Name != "alpha" {
		t.Errorf("memoised definitions were mutated: %s", again[0].Name)
	}

	// Registering invalidates the memoised list.
	r.Register(&fakeTool{name: "gamma"})
	if got := len(r.Definitions()); got != 3 {
		t.Errorf("len(Definitions()) after register = %d, want 3", got)
	}

	// Re-registering a name keeps its position.
	r.Register(&fakeTool{name: "alpha"})
	defs = r.Definitions()
	if len(defs) != 3 || defs[0].Name != "alpha" {
		t.Errorf("re-register changed order: %+v", defs)
	}
}
