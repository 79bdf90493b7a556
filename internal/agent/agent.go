// Package agent runs the conversation loop: it builds model context
// through the memory manager, streams completions from the model pool,
// dispatches tool calls through the registry, and delivers the reply
// over the originating channel.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/internal/memory"
	"github.com/squidbot/squidbot/internal/tools"
	"github.com/squidbot/squidbot/pkg/models"
)

// MaxToolRounds bounds consecutive tool rounds within one run. When the
// model is still asking for tools after the last round, the loop stops
// without another model call.
const MaxToolRounds = 20

// maxResultRunes caps the persisted tool_result audit line. The model
// itself still receives the full tool output.
const maxResultRunes = 2000

var roundLimitMessage = fmt.Sprintf(
	"I stopped after %d tool rounds without reaching a final answer. Send a follow-up message to continue.",
	MaxToolRounds)

// Replier is the slice of the channel contract the loop needs to
// deliver output. channels.Channel satisfies it.
type Replier interface {
	// Streaming reports whether the channel wants per-chunk delivery.
	Streaming() bool
	// Send delivers text to the session. final marks end of response.
	Send(ctx context.Context, session models.Session, text string, final bool) error
}

// Loop wires the memory manager, tool registry, and model client into
// per-message agent runs. One Loop serves all sessions; per-run state
// lives on the stack.
type Loop struct {
	memory   *memory.Manager
	registry *tools.Registry
	llm      llm.Client
	prompt   string
	logger   *slog.Logger
}

// New constructs a Loop. prompt is the base system prompt; the memory
// manager layers skills, the memory document, and the running summary
// on top of it per call.
func New(mem *memory.Manager, registry *tools.Registry, client llm.Client, prompt string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		memory:   mem,
		registry: registry,
		llm:      client,
		prompt:   prompt,
		logger:   logger.With("component", "agent"),
	}
}

// Run executes one full exchange for a session: context build, up to
// MaxToolRounds model/tool rounds, delivery, and tail persistence.
// Every failure mode short of context cancellation resolves to a reply
// for the user, so Run only returns an error when the context is done.
func (l *Loop) Run(ctx context.Context, session models.Session, userMessage string, ch Replier, opts ...RunOption) error {
	cfg := runConfig{llm: l.llm}
	for _, opt := range opts {
		opt(&cfg)
	}

	messages, err := l.memory.BuildMessages(ctx, session, l.prompt, userMessage)
	if err != nil {
		l.logger.Warn("context build failed, running with minimal context", "error", err)
		messages = []models.Message{
			{Role: models.RoleSystem, Content: l.prompt},
			{Role: models.RoleUser, Content: userMessage, Timestamp: time.Now()},
		}
	}

	// The inbound message goes to the stream before any round output so
	// the history reads in conversation order. BuildMessages has already
	// taken its history snapshot, so this does not double the message.
	if err := l.memory.AppendUserMessage(ctx, session, userMessage); err != nil {
		l.logger.Warn("failed to persist user message", "session", session.ID(), "error", err)
	}

	defs := l.registry.Definitions()
	defs = append(defs, tools.Definitions(cfg.extras)...)

	for round := 0; round < MaxToolRounds; round++ {
		text, calls, err := l.stream(ctx, cfg.llm, llm.Request{Messages: messages, Tools: defs}, session, ch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("model call failed", "session", session.ID(), "error", err)
			reply := llm.UserMessage(err)
			l.flush(ctx, session, ch, reply, false)
			l.persistReply(ctx, session, reply)
			return nil
		}

		if len(calls) == 0 {
			l.flush(ctx, session, ch, text, ch.Streaming())
			l.persistReply(ctx, session, text)
			return nil
		}

		if err := l.memory.AppendAssistantToolCalls(ctx, session, text, calls); err != nil {
			l.logger.Warn("failed to persist assistant tool calls", "session", session.ID(), "error", err)
		}
		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
			Timestamp: time.Now(),
		})

		for _, call := range calls {
			result := l.registry.DispatchWith(ctx, call, cfg.extras)
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			})
			if err := l.memory.AppendToolMessage(ctx, session, call.ID, result.Content); err != nil {
				l.logger.Warn("failed to persist tool message", "tool", call.Name, "error", err)
			}
			if err := l.memory.AppendToolEvent(ctx, session, renderCall(call), truncate(result.Content, maxResultRunes)); err != nil {
				l.logger.Warn("failed to persist tool event", "tool", call.Name, "error", err)
			}
		}
	}

	l.logger.Warn("tool round limit reached", "session", session.ID(), "rounds", MaxToolRounds)
	l.flush(ctx, session, ch, roundLimitMessage, false)
	l.persistReply(ctx, session, roundLimitMessage)
	return nil
}

// stream consumes one model call. Text deltas go straight to streaming
// channels; tool calls are collected in arrival order. The returned
// text is the complete accumulated response text either way.
func (l *Loop) stream(ctx context.Context, client llm.Client, req llm.Request, session models.Session, ch Replier) (string, []models.ToolCall, error) {
	chunks, err := client.Chat(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var (
		b     strings.Builder
		calls []models.ToolCall
	)
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return b.String(), calls, chunk.Err
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		case chunk.Text != "":
			b.WriteString(chunk.Text)
			if ch.Streaming() {
				if err := ch.Send(ctx, session, chunk.Text, false); err != nil {
					l.logger.Warn("failed to stream chunk", "channel", session.Channel, "error", err)
				}
			}
		}
	}
	return b.String(), calls, nil
}

// flush ends a response. streamed marks text that already went out
// chunk by chunk, in which case only the final-frame marker is sent.
// Delivery failures log and drop; the channel may be shutting down.
func (l *Loop) flush(ctx context.Context, session models.Session, ch Replier, text string, streamed bool) {
	if streamed {
		text = ""
	}
	if err := ch.Send(ctx, session, text, true); err != nil {
		l.logger.Warn("failed to deliver reply", "channel", session.Channel, "error", err)
	}
}

// persistReply records the final assistant message after delivery. The
// user already has the reply, so a failure here only logs.
func (l *Loop) persistReply(ctx context.Context, session models.Session, reply string) {
	if err := l.memory.AppendAssistantMessage(ctx, session, reply); err != nil {
		l.logger.Warn("failed to persist reply", "session", session.ID(), "error", err)
	}
}

// truncate cuts s to max runes, marking the cut. Rune counting keeps
// multibyte text from being split mid-character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[truncated]"
}
