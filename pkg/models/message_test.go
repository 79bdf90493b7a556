package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "user with timestamp",
			msg:  Message{Role: RoleUser, Content: "hi", Timestamp: ts},
			want: `{"role":"user","content":"hi","timestamp":"2026-02-25T10:00:00Z"}`,
		},
		{
			name: "assistant without tool calls omits the field",
			msg:  Message{Role: RoleAssistant, Content: "hello"},
			want: `{"role":"assistant","content":"hello"}`,
		},
		{
			name: "tool message carries tool_call_id",
			msg:  Message{Role: RoleTool, Content: "result", ToolCallID: "tc_1"},
			want: `{"role":"tool","content":"result","tool_call_id":"tc_1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}

			var back Message
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Role != tt.msg.Role || back.Content != tt.msg.Content || back.ToolCallID != tt.msg.ToolCallID {
				t.Errorf("round trip = %+v, want %+v", back, tt.msg)
			}
		})
	}
}

func TestMessageAcceptsExplicitEmptyToolCalls(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"assistant","content":"hello","tool_calls":[]}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Role != RoleAssistant || msg.Content != "hello" {
		t.Errorf("got %+v", msg)
	}
	if len(msg.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want empty", msg.ToolCalls)
	}
}

func TestIsToolEvent(t *testing.T) {
	if !(Message{Role: RoleToolCall}).IsToolEvent() {
		t.Error("tool_call should be a tool event")
	}
	if !(Message{Role: RoleToolResult}).IsToolEvent() {
		t.Error("tool_result should be a tool event")
	}
	if (Message{Role: RoleTool}).IsToolEvent() {
		t.Error("tool is the wire role, not a tool event")
	}
	if (Message{Role: RoleUser}).IsToolEvent() {
		t.Error("user is not a tool event")
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleToolCall, RoleToolResult} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Error("unknown role should be invalid")
	}
}
