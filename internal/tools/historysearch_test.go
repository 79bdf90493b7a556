package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/pkg/models"
)

func seedHistory(t *testing.T, msgs []models.Message) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range msgs {
		if err := st.AppendMessage(context.Background(), "cli:local", msg); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestHistorySearchRendersMatches(t *testing.T) {
	st := seedHistory(t, []models.Message{
		{Role: models.RoleUser, Content: "what about the garden?"},
		{Role: models.RoleAssistant, Content: "The tomatoes need water."},
		{Role: models.RoleToolCall, Content: "shell(command='date')"},
		{Role: models.RoleUser, Content: "thanks"},
	})
	tool := NewHistorySearchTool(st)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "tomatoes"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "Found 1 match(es) for 'tomatoes':") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "USER: what about the garden?") {
		t.Errorf("missing before context: %q", out)
	}
	if !strings.Contains(out, "**ASSISTANT: The tomatoes need water.**") {
		t.Errorf("hit line not bolded: %q", out)
	}
	if !strings.Contains(out, "TOOL CALL: shell(command='date')") {
		t.Errorf("missing after context: %q", out)
	}
}

func TestHistorySearchNoMatches(t *testing.T) {
	st := seedHistory(t, []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})
	tool := NewHistorySearchTool(st)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "submarine"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "No matches found for 'submarine'." {
		t.Errorf("out = %q", out)
	}
}

func TestHistorySearchSkipsSystemContext(t *testing.T) {
	st := seedHistory(t, []models.Message{
		{Role: models.RoleSystem, Content: "You are a helpful assistant."},
		{Role: models.RoleUser, Content: "remember the anniversary"},
	})
	tool := NewHistorySearchTool(st)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "anniversary"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(out, "helpful assistant") {
		t.Errorf("system message leaked into context: %q", out)
	}
}

func TestHistorySearchTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 400) + " keyword"
	st := seedHistory(t, []models.Message{
		{Role: models.RoleUser, Content: long},
	})
	tool := NewHistorySearchTool(st)

	out, err := tool.Execute(context.Background(), map[string]any{"query": "keyword"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "…") {
		t.Errorf("long line not truncated: %q", out)
	}
	if strings.Contains(out, "keyword**") && !strings.Contains(out, "…**") {
		t.Errorf("truncation should cut before the end of the line: %q", out)
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("short", 300); got != "short" {
		t.Errorf("truncateLine(short) = %q", got)
	}
	if got := truncateLine("a\nb", 300); got != "a b" {
		t.Errorf("newlines should flatten, got %q", got)
	}
	got := truncateLine(strings.Repeat("é", 301), 300)
	if want := strings.Repeat("é", 300) + "…"; got != want {
		t.Errorf("rune truncation off: len=%d", len([]rune(got)))
	}
}
