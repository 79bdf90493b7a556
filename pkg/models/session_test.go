package models

import "testing"

func TestSessionID(t *testing.T) {
	s := Session{Channel: "cli", SenderID: "local"}
	if got := s.ID(); got != "cli:local" {
		t.Errorf("ID() = %q, want %q", got, "cli:local")
	}
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		id      string
		want    Session
		wantErr bool
	}{
		{id: "cli:local", want: Session{Channel: "cli", SenderID: "local"}},
		{id: "matrix:@alice:example.org", want: Session{Channel: "matrix", SenderID: "@alice:example.org"}},
		{id: "email:alice@example.org", want: Session{Channel: "email", SenderID: "alice@example.org"}},
		{id: "nocolon", wantErr: true},
		{id: ":sender", wantErr: true},
		{id: "channel:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := ParseSessionID(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionID(%q): %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("ParseSessionID(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}
