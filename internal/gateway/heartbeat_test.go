package gateway

import (
	"context"
	"testing"

	"github.com/squidbot/squidbot/pkg/models"
)

func TestHasHeartbeatToken(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"HEARTBEAT_OK", true},
		{"  HEARTBEAT_OK  ", true},
		{"HEARTBEAT_OK: nothing new", true},
		{"All quiet. HEARTBEAT_OK", true},
		{"HEARTBEAT_OKAY", false},
		{"the reply was HEARTBEAT_OK earlier today", false},
		{"", false},
		{"everything is fine", false},
	}
	for _, tt := range tests {
		if got := hasHeartbeatToken(tt.text); got != tt.want {
			t.Errorf("hasHeartbeatToken(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStripHeartbeatToken(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"HEARTBEAT_OK", ""},
		{"HEARTBEAT_OK: disk usage at 92%", "disk usage at 92%"},
		{"All quiet. HEARTBEAT_OK", "All quiet."},
		{"HEARTBEAT_OK\nnothing else to report", "nothing else to report"},
	}
	for _, tt := range tests {
		if got := stripHeartbeatToken(tt.text); got != tt.want {
			t.Errorf("stripHeartbeatToken(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestHeartbeatReplierFiltersToken(t *testing.T) {
	fc := newFakeChannel("cli")
	r := &heartbeatReplier{target: fc}
	session := models.Session{Channel: "cli", SenderID: "local"}
	ctx := context.Background()

	if err := r.Send(ctx, session, "HEARTBEAT_OK", true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if r.Surfaced() {
		t.Fatal("token-only reply should not surface")
	}
	if sent := fc.Sent(); len(sent) != 0 {
		t.Fatalf("sent = %q, want nothing", sent)
	}

	if err := r.Send(ctx, session, "HEARTBEAT_OK Backup has not run since Friday.", true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !r.Surfaced() {
		t.Fatal("report should surface")
	}
	sent := fc.Sent()
	if len(sent) != 1 || sent[0] != "Backup has not run since Friday." {
		t.Fatalf("sent = %q, want the stripped report", sent)
	}
}
