package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/squidbot/squidbot/pkg/models"
)

func containsDeploy(m models.Message) bool {
	return strings.Contains(strings.ToLower(m.Content), "deploy")
}

func TestSearchStream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []models.Message{
		{Role: models.RoleUser, Content: "good morning"},
		{Role: models.RoleUser, Content: "deploy the api today"},
		{Role: models.RoleAssistant, Content: "on it"},
		{Role: models.RoleUser, Content: "unrelated chatter"},
		{Role: models.RoleAssistant, Content: "Deploy finished"},
	}
	for _, msg := range seed {
		if err := s.AppendMessage(ctx, "cli:local", msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchStream(ctx, containsDeploy, 5, 0)
	if err != nil {
		t.Fatalf("SearchStream() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchStream() returned %d matches, want 2", len(got))
	}

	first := got[0]
	if first.Hit.Content != "deploy the api today" {
		t.Errorf("first hit = %q", first.Hit.Content)
	}
	if first.Before == nil || first.Before.Content != "good morning" {
		t.Errorf("first before = %+v, want good morning", first.Before)
	}
	if first.After == nil || first.After.Content != "on it" {
		t.Errorf("first after = %+v, want on it", first.After)
	}

	second := got[1]
	if second.Hit.Content != "Deploy finished" {
		t.Errorf("second hit = %q", second.Hit.Content)
	}
	if second.Before == nil || second.Before.Content != "unrelated chatter" {
		t.Errorf("second before = %+v, want unrelated chatter", second.Before)
	}
	if second.After != nil {
		t.Errorf("second after = %+v, want nil at end of stream", second.After)
	}
}

func TestSearchStreamStopsAtMaxResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.AppendMessage(ctx, "cli:local", models.Message{Role: models.RoleUser, Content: "deploy round"}); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendMessage(ctx, "cli:local", models.Message{Role: models.RoleAssistant, Content: "noted"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchStream(ctx, containsDeploy, 3, 0)
	if err != nil {
		t.Fatalf("SearchStream() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("SearchStream() returned %d matches, want 3", len(got))
	}
	if got[2].After == nil || got[2].After.Content != "noted" {
		t.Errorf("last match after = %+v, want the trailing reply", got[2].After)
	}
}

func TestSearchStreamConsecutiveHits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"deploy one", "deploy two", "done"} {
		if err := s.AppendMessage(ctx, "cli:local", models.Message{Role: models.RoleUser, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchStream(ctx, containsDeploy, 5, 0)
	if err != nil {
		t.Fatalf("SearchStream() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchStream() returned %d matches, want 2", len(got))
	}
	if got[0].After != nil {
		t.Errorf("first match after = %+v, want nil when the next message is itself a hit", got[0].After)
	}
	if got[1].Before == nil || got[1].Before.Content != "deploy one" {
		t.Errorf("second match before = %+v, want deploy one", got[1].Before)
	}
	if got[1].After == nil || got[1].After.Content != "done" {
		t.Errorf("second match after = %+v, want done", got[1].After)
	}
}

func TestSearchStreamDaysCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -30)
	recent := time.Now().Add(-time.Hour)
	seed := []models.Message{
		{Role: models.RoleUser, Content: "deploy from last month", Timestamp: old},
		{Role: models.RoleUser, Content: "deploy from today", Timestamp: recent},
		{Role: models.RoleUser, Content: "undated deploy note"},
	}
	for _, msg := range seed {
		if err := s.AppendMessage(ctx, "cli:local", msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchStream(ctx, containsDeploy, 5, 7)
	if err != nil {
		t.Fatalf("SearchStream() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchStream() returned %d matches, want 2", len(got))
	}
	if got[0].Hit.Content != "deploy from today" {
		t.Errorf("first surviving hit = %q", got[0].Hit.Content)
	}
	if got[0].Before != nil {
		t.Errorf("before = %+v, want nil when the previous message is out of window", got[0].Before)
	}
	if got[1].Hit.Content != "undated deploy note" {
		t.Errorf("undated message should pass the cutoff, got %q", got[1].Hit.Content)
	}
}
