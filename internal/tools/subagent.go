package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SubagentTool delegates a self-contained task to a nested agent run. The
// run function is supplied by the composition root so this package stays
// independent of the agent loop.
type SubagentTool struct {
	run func(ctx context.Context, task string) (string, error)
}

func NewSubagentTool(run func(ctx context.Context, task string) (string, error)) *SubagentTool {
	return &SubagentTool{run: run}
}

func (t *SubagentTool) Name() string { return "subagent" }

func (t *SubagentTool) Description() string {
	return "Delegate a self-contained task to a sub-agent and return its final answer. Use for research or multi-step work that does not need the current conversation."
}

func (t *SubagentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Complete description of the task, including all context the sub-agent needs.",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.run == nil {
		return "", errors.New("subagent runner not configured")
	}
	var input struct {
		Task string `json:"task"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	task := strings.TrimSpace(input.Task)
	if task == "" {
		return "", errors.New("task is required")
	}
	return t.run(ctx, task)
}
