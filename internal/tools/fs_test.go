package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileToolsRoundTrip(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(root)
	out, err := write.Execute(ctx, map[string]any{"path": "notes/today.md", "content": "buy milk"})
	if err != nil {
		t.Fatalf("write_file error = %v", err)
	}
	if !strings.Contains(out, "8 bytes") {
		t.Errorf("write_file output = %q", out)
	}

	read := NewReadFileTool(root)
	got, err := read.Execute(ctx, map[string]any{"path": "notes/today.md"})
	if err != nil {
		t.Fatalf("read_file error = %v", err)
	}
	if got != "buy milk" {
		t.Errorf("read_file = %q, want buy milk", got)
	}

	list := NewListDirTool(root)
	got, err = list.Execute(ctx, map[string]any{"path": "notes"})
	if err != nil {
		t.Fatalf("list_dir error = %v", err)
	}
	if !strings.Contains(got, "today.md (8 bytes)") {
		t.Errorf("list_dir = %q", got)
	}
}

func TestFileToolsRejectEscapes(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	read := NewReadFileTool(root)
	if _, err := read.Execute(ctx, map[string]any{"path": "../outside.txt"}); err == nil {
		t.Error("read_file should reject paths escaping the workspace")
	}

	write := NewWriteFileTool(root)
	if _, err := write.Execute(ctx, map[string]any{"path": "../clobber.txt", "content": "x"}); err == nil {
		t.Error("write_file should reject paths escaping the workspace")
	}
}

func TestListDirDefaultsToRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool(root)
	got, err := list.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("list_dir error = %v", err)
	}
	if !strings.Contains(got, "sub/") {
		t.Errorf("list_dir = %q, want sub/ entry", got)
	}
}
