// Package memory assembles the conversation context for each agent run
// and folds old history into a rolling summary.
//
// The context for a run is [system, ...history, user]: the effective
// system prompt is the configured base plus skills, memory document and
// summary blocks, and the history is the global stream with the
// internal tool-event roles filtered out. A persistent cursor marks how
// much of the filtered stream has already been consolidated into
// summary.md; messages behind the cursor are represented by the summary
// block instead of verbatim.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/internal/skills"
	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/pkg/models"
)

const (
	defaultThreshold       = 50
	defaultKeepRecentRatio = 0.3

	// summaryWordLimit triggers in-place recompression of summary.md.
	summaryWordLimit = 600
)

// Manager builds per-turn message lists and owns history persistence
// above the raw store.
type Manager struct {
	store     *store.Store
	skills    *skills.Loader
	llm       llm.Client
	logger    *slog.Logger
	threshold int
	keepRatio float64
	scoped    map[aliasKey]string
	unscoped  map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSkills attaches a skills loader for system-prompt injection.
func WithSkills(loader *skills.Loader) Option {
	return func(m *Manager) { m.skills = loader }
}

// WithLLM attaches the model used for consolidation. Without one,
// consolidation is disabled and history is always included verbatim.
func WithLLM(client llm.Client) Option {
	return func(m *Manager) { m.llm = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithConsolidation overrides the consolidation threshold and the share
// of recent messages kept verbatim.
func WithConsolidation(threshold int, keepRecentRatio float64) Option {
	return func(m *Manager) {
		if threshold > 0 {
			m.threshold = threshold
		}
		if keepRecentRatio > 0 {
			m.keepRatio = keepRecentRatio
		}
	}
}

// WithAliases installs the owner-alias lookup tables.
func WithAliases(aliases []Alias) Option {
	return func(m *Manager) { m.scoped, m.unscoped = buildAliasMaps(aliases) }
}

// NewManager creates a memory manager over st.
func NewManager(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		logger:    slog.Default(),
		threshold: defaultThreshold,
		keepRatio: defaultKeepRecentRatio,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "memory")
	return m
}

// BuildMessages returns the full conversation list for the next LLM
// call: effective system prompt, unconsolidated history, then the
// labelled user message. Callers fall back to [system, user] when it
// fails.
func (m *Manager) BuildMessages(ctx context.Context, session models.Session, basePrompt, userMessage string) ([]models.Message, error) {
	history, err := m.store.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	filtered := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.IsToolEvent() {
			continue
		}
		filtered = append(filtered, msg)
	}

	cursor, err := m.store.LoadConsolidatedCursor(ctx)
	if err != nil {
		// Neutral state. Skip consolidation rather than re-summarize
		// from zero against a store that just failed.
		m.logger.Warn("failed to read consolidation cursor", "error", err)
		cursor = 0
	} else if m.llm != nil && len(filtered)-cursor > m.threshold {
		advanced, cerr := m.consolidate(ctx, filtered, cursor)
		if cerr != nil {
			m.logger.Warn("history consolidation failed", "error", cerr)
		} else {
			cursor = advanced
		}
	}
	if cursor > len(filtered) {
		cursor = len(filtered)
	}

	msgs := make([]models.Message, 0, len(filtered)-cursor+2)
	msgs = append(msgs, models.Message{
		Role:    models.RoleSystem,
		Content: m.SystemPrompt(ctx, basePrompt),
	})
	msgs = append(msgs, filtered[cursor:]...)
	msgs = append(msgs, models.Message{
		Role:      models.RoleUser,
		Content:   m.LabelUser(session, userMessage),
		Timestamp: time.Now(),
	})
	return msgs, nil
}

// SystemPrompt composes the effective system prompt: base, skills
// block, memory document, and prior-conversation summary. Blocks are
// included only when non-empty.
func (m *Manager) SystemPrompt(ctx context.Context, base string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))

	if block := m.skillsBlock(); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	if doc, err := m.store.LoadMemoryDoc(ctx); err != nil {
		m.logger.Warn("failed to read memory document", "error", err)
	} else if strings.TrimSpace(doc) != "" {
		b.WriteString("\n\n## Your Memory\n")
		b.WriteString(strings.TrimSpace(doc))
	}
	if summary, err := m.store.LoadSummary(ctx); err != nil {
		m.logger.Warn("failed to read summary", "error", err)
	} else if strings.TrimSpace(summary) != "" {
		b.WriteString("\n\n## Prior Conversation Summary\n")
		b.WriteString(strings.TrimSpace(summary))
	}
	return b.String()
}

// skillsBlock lists every discovered skill and inlines the body of the
// always-injected ones.
func (m *Manager) skillsBlock() string {
	if m.skills == nil {
		return ""
	}
	list := m.skills.List()
	if len(list) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Skills\n")
	for _, meta := range list {
		if meta.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", meta.Name, meta.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", meta.Name)
		}
	}
	for _, meta := range list {
		if !meta.Always {
			continue
		}
		body, err := m.skills.Body(meta.Name)
		if err != nil {
			m.logger.Warn("failed to read skill body", "skill", meta.Name, "error", err)
			continue
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### Skill: %s\n%s\n", meta.Name, strings.TrimSpace(body))
	}
	return strings.TrimSpace(b.String())
}

// PersistExchange appends the labelled user message and the assistant
// reply. The agent loop swallows failures at this boundary.
func (m *Manager) PersistExchange(ctx context.Context, session models.Session, userMessage, reply string) error {
	if err := m.AppendUserMessage(ctx, session, userMessage); err != nil {
		return err
	}
	return m.AppendAssistantMessage(ctx, session, reply)
}

// AppendUserMessage persists one inbound user message with the owner
// label applied.
func (m *Manager) AppendUserMessage(ctx context.Context, session models.Session, content string) error {
	return m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:      models.RoleUser,
		Content:   m.LabelUser(session, content),
		Timestamp: time.Now(),
	})
}

// AppendAssistantMessage persists one assistant reply.
func (m *Manager) AppendAssistantMessage(ctx context.Context, session models.Session, content string) error {
	return m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// AppendAssistantToolCalls persists the assistant turn that requested
// tool execution, calls included.
func (m *Manager) AppendAssistantToolCalls(ctx context.Context, session models.Session, content string, calls []models.ToolCall) error {
	return m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		Timestamp: time.Now(),
	})
}

// AppendToolMessage persists one tool-role result message with its full
// content, as sent back to the LLM.
func (m *Manager) AppendToolMessage(ctx context.Context, session models.Session, toolCallID, content string) error {
	return m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	})
}

// AppendToolEvent persists the human-readable tool audit pair: one
// tool_call line with the rendered call text, then one tool_result line
// with the (possibly truncated) result text.
func (m *Manager) AppendToolEvent(ctx context.Context, session models.Session, callText, resultText string) error {
	if err := m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:      models.RoleToolCall,
		Content:   callText,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}
	return m.store.AppendMessage(ctx, session.ID(), models.Message{
		Role:      models.RoleToolResult,
		Content:   resultText,
		Timestamp: time.Now(),
	})
}
