package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/squidbot/squidbot/internal/store"
)

// MemoryWriteTool lets the agent update its long-term memory document.
// It is composed per run as an extra tool, never registered globally.
type MemoryWriteTool struct {
	store *store.Store
}

func NewMemoryWriteTool(st *store.Store) *MemoryWriteTool {
	return &MemoryWriteTool{store: st}
}

func (t *MemoryWriteTool) Name() string { return "memory_write" }

func (t *MemoryWriteTool) Description() string {
	return "Update the long-term memory document (MEMORY.md). Use append for new facts, replace to rewrite the curated document."
}

func (t *MemoryWriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Memory content to store.",
			},
			"mode": map[string]any{
				"type":        "string",
				"description": "append adds to the document, replace rewrites it (default append).",
				"enum":        []string{"append", "replace"},
			},
		},
		"required": []string{"content"},
	}
}

func (t *MemoryWriteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var input struct {
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return "", errors.New("content is required")
	}

	switch input.Mode {
	case "", "append":
		existing, err := t.store.LoadMemoryDoc(ctx)
		if err != nil {
			return "", fmt.Errorf("load memory: %w", err)
		}
		doc := strings.TrimRight(existing, "\n")
		if doc == "" {
			doc = "# Memory"
		}
		doc += "\n" + content + "\n"
		if err := t.store.SaveMemoryDoc(ctx, doc); err != nil {
			return "", fmt.Errorf("save memory: %w", err)
		}
		return "Memory updated.", nil
	case "replace":
		if err := t.store.SaveMemoryDoc(ctx, content+"\n"); err != nil {
			return "", fmt.Errorf("save memory: %w", err)
		}
		return "Memory replaced.", nil
	default:
		return "", fmt.Errorf("unknown mode: %s", input.Mode)
	}
}
