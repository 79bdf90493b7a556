package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool runs shell commands inside the workspace.
type ShellTool struct {
	workdir string
	timeout time.Duration
}

// NewShellTool creates a shell tool rooted at workdir. timeout caps each
// command; zero means the default of one minute.
func NewShellTool(workdir string, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	return &ShellTool{workdir: workdir, timeout: timeout}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return its output."
}

func (t *ShellTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (default 60).",
				"minimum":     1,
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return "", errors.New("command is required")
	}

	timeout := t.timeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workdir
	out, err := cmd.CombinedOutput()

	text := strings.TrimRight(string(out), "\n")
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if text == "" {
			return fmt.Sprintf("(exit status %d)", exitErr.ExitCode()), nil
		}
		return fmt.Sprintf("%s\n(exit status %d)", text, exitErr.ExitCode()), nil
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}
