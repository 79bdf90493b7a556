package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/squidbot/squidbot/pkg/models"
)

type fakeClient struct {
	model   string
	chatErr error
	chunks  []Chunk
	calls   int
}

func (f *fakeClient) Model() string { return f.model }

func (f *fakeClient) Chat(ctx context.Context, _ Request) (<-chan Chunk, error) {
	f.calls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collectChunks(t *testing.T, stream <-chan Chunk) []Chunk {
	t.Helper()
	var got []Chunk
	for c := range stream {
		got = append(got, c)
	}
	return got
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPoolRequiresClients(t *testing.T) {
	if _, err := NewPool(nil, discardLogger()); err == nil {
		t.Fatal("NewPool(nil) should fail")
	}
}

func TestPoolPrimaryModelWins(t *testing.T) {
	primary := &fakeClient{model: "alpha", chunks: []Chunk{{Text: "hel"}, {Text: "lo"}, {Done: true}}}
	backup := &fakeClient{model: "beta", chunks: []Chunk{{Text: "never"}, {Done: true}}}
	pool, err := NewPool([]Client{primary, backup}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	stream, err := pool.Chat(context.Background(), Request{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	got := collectChunks(t, stream)

	text := ""
	for _, c := range got {
		text += c.Text
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}
	if !got[len(got)-1].Done {
		t.Error("last chunk should be Done")
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestPoolFailsOverBeforeDelivery(t *testing.T) {
	t.Run("chat error", func(t *testing.T) {
		primary := &fakeClient{model: "alpha", chatErr: errors.New("boom")}
		backup := &fakeClient{model: "beta", chunks: []Chunk{{Text: "fallback"}, {Done: true}}}
		pool, _ := NewPool([]Client{primary, backup}, discardLogger())

		stream, err := pool.Chat(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		got := collectChunks(t, stream)

		if len(got) != 2 || got[0].Text != "fallback" || !got[1].Done {
			t.Errorf("chunks = %+v, want fallback text then Done", got)
		}
	})

	t.Run("error chunk before output", func(t *testing.T) {
		primary := &fakeClient{model: "alpha", chunks: []Chunk{{Err: errors.New("503 service unavailable")}, {Text: "stale"}}}
		backup := &fakeClient{model: "beta", chunks: []Chunk{{Text: "fallback"}, {Done: true}}}
		pool, _ := NewPool([]Client{primary, backup}, discardLogger())

		stream, err := pool.Chat(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		got := collectChunks(t, stream)

		for _, c := range got {
			if c.Text == "stale" {
				t.Error("chunks after a failure should be drained, not forwarded")
			}
			if c.Err != nil {
				t.Errorf("unexpected error chunk: %v", c.Err)
			}
		}
		if got[0].Text != "fallback" {
			t.Errorf("first chunk text = %q, want %q", got[0].Text, "fallback")
		}
	})
}

func TestPoolCommitsOnceContentStreamed(t *testing.T) {
	primary := &fakeClient{model: "alpha", chunks: []Chunk{{Text: "partial"}, {Err: errors.New("connection reset")}}}
	backup := &fakeClient{model: "beta", chunks: []Chunk{{Text: "fallback"}, {Done: true}}}
	pool, _ := NewPool([]Client{primary, backup}, discardLogger())

	stream, err := pool.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	got := collectChunks(t, stream)

	if backup.calls != 0 {
		t.Errorf("backup called %d times after primary delivered content, want 0", backup.calls)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].Text != "partial" {
		t.Errorf("first chunk text = %q, want %q", got[0].Text, "partial")
	}
	if got[1].Err == nil {
		t.Error("mid-stream failure should be forwarded to the caller")
	}
}

func TestPoolToolCallCountsAsDelivery(t *testing.T) {
	call := &models.ToolCall{ID: "t1", Name: "shell"}
	primary := &fakeClient{model: "alpha", chunks: []Chunk{{ToolCall: call}, {Err: errors.New("500")}}}
	backup := &fakeClient{model: "beta", chunks: []Chunk{{Done: true}}}
	pool, _ := NewPool([]Client{primary, backup}, discardLogger())

	stream, _ := pool.Chat(context.Background(), Request{})
	got := collectChunks(t, stream)

	if backup.calls != 0 {
		t.Error("tool call delivery should commit the pool to the primary model")
	}
	if got[0].ToolCall == nil || got[0].ToolCall.Name != "shell" {
		t.Errorf("first chunk = %+v, want the tool call", got[0])
	}
}

func TestPoolExhaustionEmitsLastError(t *testing.T) {
	first := &fakeClient{model: "alpha", chatErr: errors.New("first failure")}
	second := &fakeClient{model: "beta", chunks: []Chunk{{Err: errors.New("second failure")}}}
	pool, _ := NewPool([]Client{first, second}, discardLogger())

	stream, err := pool.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	got := collectChunks(t, stream)

	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if got[0].Err == nil || got[0].Err.Error() != "second failure" {
		t.Errorf("error = %v, want the last model's failure", got[0].Err)
	}
}

func TestPoolCleanCloseWithoutDone(t *testing.T) {
	primary := &fakeClient{model: "alpha", chunks: []Chunk{{Text: "hi"}}}
	pool, _ := NewPool([]Client{primary}, discardLogger())

	stream, _ := pool.Chat(context.Background(), Request{})
	got := collectChunks(t, stream)

	if len(got) != 1 || got[0].Text != "hi" {
		t.Errorf("chunks = %+v, want single text chunk", got)
	}
}

func TestPoolLogsAuthFailuresAsWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	primary := &fakeClient{model: "alpha", chatErr: errors.New("401 unauthorized")}
	backup := &fakeClient{model: "beta", chunks: []Chunk{{Done: true}}}
	pool, _ := NewPool([]Client{primary, backup}, logger)

	stream, _ := pool.Chat(context.Background(), Request{})
	collectChunks(t, stream)

	out := buf.String()
	if !strings.Contains(out, "model authentication failed") {
		t.Errorf("log output %q should mention the authentication failure", out)
	}
	if !strings.Contains(out, "model=alpha") {
		t.Errorf("log output %q should name the failing model", out)
	}
}

func TestPoolModels(t *testing.T) {
	pool, _ := NewPool([]Client{
		&fakeClient{model: "alpha"},
		&fakeClient{model: "beta"},
	}, discardLogger())

	if got := pool.Model(); got != "alpha" {
		t.Errorf("Model() = %q, want %q", got, "alpha")
	}
	want := []string{"alpha", "beta"}
	got := pool.Models()
	if len(got) != len(want) {
		t.Fatalf("Models() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Models()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
