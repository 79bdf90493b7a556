package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/squidbot/squidbot/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewCreatesLayout(t *testing.T) {
	s := newTestStore(t)
	for _, dir := range []string{"memory", "workspace", filepath.Join("workspace", "skills"), "cron"} {
		info, err := os.Stat(filepath.Join(s.BaseDir(), dir))
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestAppendAndLoadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := []models.Message{
		{Role: models.RoleUser, Content: "hello", Timestamp: time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)},
		{Role: models.RoleAssistant, Content: "hi there"},
		{Role: models.RoleToolCall, Content: "echo(text='world')"},
		{Role: models.RoleToolResult, Content: "world"},
	}
	for _, msg := range want {
		if err := s.AppendMessage(ctx, "cli:local", msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := s.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("LoadHistory() returned %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !got[0].Timestamp.Equal(want[0].Timestamp) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, want[0].Timestamp)
	}
}

func TestLoadHistoryMissingFile(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadHistory(context.Background())
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadHistory() on missing file = %d messages, want 0", len(got))
	}
}

func TestLoadHistorySkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw := strings.Join([]string{
		`{"role":"user","content":"first"}`,
		`{not json at all`,
		``,
		`{"role":"ghost","content":"unknown role"}`,
		`{"role":"assistant","content":"second"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(s.historyPath(), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadHistory() returned %d messages, want 2", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("surviving messages = %q, %q, want first, second", got[0].Content, got[1].Content)
	}
}

func TestLoadHistoryReplacesInvalidUTF8(t *testing.T) {
	s := newTestStore(t)

	line := append([]byte(`{"role":"user","content":"caf`), 0xE9)
	line = append(line, []byte(`"}`+"\n")...)
	if err := os.WriteFile(s.historyPath(), line, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadHistory(context.Background())
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadHistory() returned %d messages, want 1", len(got))
	}
	if !strings.HasPrefix(got[0].Content, "caf") || !strings.Contains(got[0].Content, "�") {
		t.Errorf("content = %q, want caf with replacement rune", got[0].Content)
	}
}

func TestLoadRecentHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		msg := models.Message{Role: models.RoleUser, Content: strings.Repeat("x", i+1)}
		if err := s.AppendMessage(ctx, "cli:local", msg); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("last three", func(t *testing.T) {
		got, err := s.LoadRecentHistory(ctx, 3)
		if err != nil {
			t.Fatalf("LoadRecentHistory() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d messages, want 3", len(got))
		}
		for i, wantLen := range []int{8, 9, 10} {
			if len(got[i].Content) != wantLen {
				t.Errorf("message %d content length = %d, want %d", i, len(got[i].Content), wantLen)
			}
		}
	})

	t.Run("zero returns empty", func(t *testing.T) {
		got, err := s.LoadRecentHistory(ctx, 0)
		if err != nil {
			t.Fatalf("LoadRecentHistory() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d messages, want 0", len(got))
		}
	})

	t.Run("more than available returns all", func(t *testing.T) {
		got, err := s.LoadRecentHistory(ctx, 100)
		if err != nil {
			t.Fatalf("LoadRecentHistory() error = %v", err)
		}
		if len(got) != 10 {
			t.Errorf("got %d messages, want 10", len(got))
		}
	})
}

func TestLoadRecentHistoryAcrossBlocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Lines big enough that the tail spans several backward reads, plus
	// one line longer than a single block.
	big := strings.Repeat("b", tailBlockSize+512)
	if err := s.AppendMessage(ctx, "cli:local", models.Message{Role: models.RoleUser, Content: big}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 120; i++ {
		msg := models.Message{Role: models.RoleAssistant, Content: strings.Repeat("a", 1024)}
		if err := s.AppendMessage(ctx, "cli:local", msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LoadRecentHistory(ctx, 121)
	if err != nil {
		t.Fatalf("LoadRecentHistory() error = %v", err)
	}
	if len(got) != 121 {
		t.Fatalf("got %d messages, want 121", len(got))
	}
	if len(got[0].Content) != len(big) {
		t.Errorf("oversized first message came back with %d bytes, want %d", len(got[0].Content), len(big))
	}
	if got[120].Role != models.RoleAssistant {
		t.Errorf("last message role = %q, want assistant", got[120].Role)
	}
}

func TestLoadRecentHistoryToleratesTornTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "cli:local", models.Message{Role: models.RoleUser, Content: "whole"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.historyPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"role":"assistant","content":"half`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := s.LoadRecentHistory(ctx, 5)
	if err != nil {
		t.Fatalf("LoadRecentHistory() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "whole" {
		t.Errorf("got %+v, want just the whole message", got)
	}
}

func TestMemoryDocRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadMemoryDoc(ctx)
	if err != nil {
		t.Fatalf("LoadMemoryDoc() error = %v", err)
	}
	if got != "" {
		t.Errorf("LoadMemoryDoc() before save = %q, want empty", got)
	}

	want := "# Memory\n\n- user prefers terse answers\n"
	if err := s.SaveMemoryDoc(ctx, want); err != nil {
		t.Fatalf("SaveMemoryDoc() error = %v", err)
	}
	got, err = s.LoadMemoryDoc(ctx)
	if err != nil {
		t.Fatalf("LoadMemoryDoc() error = %v", err)
	}
	if got != want {
		t.Errorf("LoadMemoryDoc() = %q, want %q", got, want)
	}
}

func TestSummaryAppendAndRewrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendSummary(ctx, "First chunk."); err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}
	if err := s.AppendSummary(ctx, "Second chunk."); err != nil {
		t.Fatalf("AppendSummary() error = %v", err)
	}

	got, err := s.LoadSummary(ctx)
	if err != nil {
		t.Fatalf("LoadSummary() error = %v", err)
	}
	if want := "First chunk.\n\nSecond chunk.\n"; got != want {
		t.Errorf("LoadSummary() = %q, want %q", got, want)
	}

	if err := s.SaveSummary(ctx, "Condensed.\n"); err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	got, err = s.LoadSummary(ctx)
	if err != nil {
		t.Fatalf("LoadSummary() error = %v", err)
	}
	if got != "Condensed.\n" {
		t.Errorf("LoadSummary() after rewrite = %q, want %q", got, "Condensed.\n")
	}
}

func TestConsolidatedCursor(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to zero", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.LoadConsolidatedCursor(ctx)
		if err != nil {
			t.Fatalf("LoadConsolidatedCursor() error = %v", err)
		}
		if got != 0 {
			t.Errorf("cursor = %d, want 0", got)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.SaveConsolidatedCursor(ctx, 42); err != nil {
			t.Fatalf("SaveConsolidatedCursor() error = %v", err)
		}
		got, err := s.LoadConsolidatedCursor(ctx)
		if err != nil {
			t.Fatalf("LoadConsolidatedCursor() error = %v", err)
		}
		if got != 42 {
			t.Errorf("cursor = %d, want 42", got)
		}
	})

	t.Run("falls back to furthest legacy cursor", func(t *testing.T) {
		s := newTestStore(t)
		legacy := filepath.Join(s.BaseDir(), "sessions")
		if err := os.MkdirAll(legacy, 0o755); err != nil {
			t.Fatal(err)
		}
		writeLegacy := func(name, body string) {
			if err := os.WriteFile(filepath.Join(legacy, name), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		writeLegacy("cli__local.meta.json", `{"last_consolidated": 7}`)
		writeLegacy("email__alice@example.org.meta.json", `{"last_consolidated": 12}`)
		writeLegacy("broken.meta.json", `{nope`)

		got, err := s.LoadConsolidatedCursor(ctx)
		if err != nil {
			t.Fatalf("LoadConsolidatedCursor() error = %v", err)
		}
		if got != 12 {
			t.Errorf("legacy cursor = %d, want 12", got)
		}

		// Once the new file exists it wins over the legacy layout.
		if err := s.SaveConsolidatedCursor(ctx, 3); err != nil {
			t.Fatal(err)
		}
		got, err = s.LoadConsolidatedCursor(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != 3 {
			t.Errorf("cursor after save = %d, want 3", got)
		}
	})
}

func TestCronJobsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadCronJobs(ctx)
	if err != nil {
		t.Fatalf("LoadCronJobs() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadCronJobs() on missing file = %d jobs, want 0", len(got))
	}

	last := time.Date(2026, 2, 25, 9, 30, 0, 0, time.UTC)
	want := []models.CronJob{
		{ID: "a1", Name: "standup", Schedule: "30 9 * * 1-5", Message: "post the standup reminder", Channel: "slack:C123", Enabled: true, Timezone: "Europe/Berlin", LastRun: &last},
		{ID: "b2", Name: "tick", Schedule: "every 300", Message: "check the build", Enabled: false},
	}
	if err := s.SaveCronJobs(ctx, want); err != nil {
		t.Fatalf("SaveCronJobs() error = %v", err)
	}

	got, err = s.LoadCronJobs(ctx)
	if err != nil {
		t.Fatalf("LoadCronJobs() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadCronJobs() returned %d jobs, want 2", len(got))
	}
	if got[0].ID != "a1" || got[0].Timezone != "Europe/Berlin" || !got[0].Enabled {
		t.Errorf("job 0 = %+v, want %+v", got[0], want[0])
	}
	if got[0].LastRun == nil || !got[0].LastRun.Equal(last) {
		t.Errorf("job 0 last run = %v, want %v", got[0].LastRun, last)
	}
	if got[1].Schedule != "every 300" || got[1].Enabled {
		t.Errorf("job 1 = %+v, want %+v", got[1], want[1])
	}
}

func TestCronJobsCorruptFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := os.WriteFile(s.cronJobsPath(), []byte("[{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadCronJobs(ctx)
	if err != nil {
		t.Fatalf("LoadCronJobs() on corrupt file error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadCronJobs() on corrupt file = %d jobs, want 0", len(got))
	}
}
