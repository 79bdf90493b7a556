package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellToolRunsCommand(t *testing.T) {
	tool := NewShellTool(t.TempDir(), 0)
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want hello", out)
	}
}

func TestShellToolReportsExitStatus(t *testing.T) {
	tool := NewShellTool(t.TempDir(), 0)
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "oops") || !strings.Contains(out, "(exit status 3)") {
		t.Errorf("output = %q", out)
	}
}

func TestShellToolTimesOut(t *testing.T) {
	tool := NewShellTool(t.TempDir(), 100*time.Millisecond)
	_, err := tool.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestShellToolRequiresCommand(t *testing.T) {
	tool := NewShellTool(t.TempDir(), 0)
	if _, err := tool.Execute(context.Background(), map[string]any{"command": "  "}); err == nil {
		t.Error("expected error for blank command")
	}
}

func TestShellToolRunsInWorkdir(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(dir, 0)
	out, err := tool.Execute(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, dir) {
		t.Errorf("pwd = %q, want under %q", out, dir)
	}
}
