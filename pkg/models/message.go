package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author type of a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleTool is the wire-level tool-response role sent back to the LLM.
	RoleTool Role = "tool"

	// RoleToolCall and RoleToolResult are internal bookkeeping roles: they
	// are persisted and searchable but never sent to the LLM.
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleToolCall, RoleToolResult:
		return true
	}
	return false
}

// Message is one line of the history stream and one entry of an LLM
// conversation. Empty fields are omitted on write; readers accept both the
// omitted and the explicit-empty shapes.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitzero"`
}

// IsToolEvent reports whether the message is one of the internal
// tool-event roles that are kept out of LLM context.
func (m Message) IsToolEvent() bool {
	return m.Role == RoleToolCall || m.Role == RoleToolResult
}

// ToolCall is an LLM request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Raw holds the argument bytes exactly as streamed by the model, key
	// order included. It feeds the persisted call text and is not part of
	// the history line format.
	Raw json.RawMessage `json:"-"`
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes a callable tool to the LLM. Parameters is a
// JSON-schema-shaped mapping.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
