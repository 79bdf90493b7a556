// Package llm streams chat completions from language model providers.
//
// Each provider adapter implements Client over its native SDK and emits a
// channel of Chunks: text deltas as they arrive, complete tool calls once
// their arguments finish streaming, then one Done chunk. Errors travel
// in-band as a final chunk. Pool composes adapters into an ordered
// failover chain behind the same interface.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/squidbot/squidbot/pkg/models"
)

// Chunk is one unit of streamed completion output.
type Chunk struct {
	// Text is a partial response text delta.
	Text string

	// ToolCall is a complete tool invocation request. Adapters accumulate
	// argument fragments internally and emit the call only when finished.
	ToolCall *models.ToolCall

	// Done marks successful end of stream.
	Done bool

	// Err terminates the stream with a failure.
	Err error
}

// Request is one chat completion request. A leading system-role message
// carries the system prompt; adapters translate it to their native slot.
type Request struct {
	Messages  []models.Message
	Tools     []models.ToolDefinition
	MaxTokens int
}

// Client is a single model endpoint capable of streaming chat.
type Client interface {
	// Model returns the model identifier, for logging and failover reports.
	Model() string

	// Chat starts a streaming completion. The returned channel is closed
	// after the final chunk; a setup failure may be returned synchronously
	// instead.
	Chat(ctx context.Context, req Request) (<-chan Chunk, error)
}

// send delivers a chunk unless the context is done first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finalizeToolCall attaches streamed argument JSON to a completed call,
// keeping the raw bytes alongside the decoded map.
func finalizeToolCall(tc *models.ToolCall, raw string) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	tc.Raw = json.RawMessage(raw)
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		args = map[string]any{}
	}
	tc.Arguments = args
}

// splitSystem separates the system prompt from the conversational messages.
func splitSystem(msgs []models.Message) (string, []models.Message) {
	system := ""
	rest := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
