package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/pkg/models"
)

const consolidationPrompt = `Summarize the following conversation concisely. Preserve concrete facts, names, decisions, and anything the user asked to be remembered. Write plain prose, no preamble.

`

const recompressPrompt = `The following is an accumulated conversation summary that has grown too long. Rewrite it as one concise summary, keeping concrete facts, names, decisions, and standing requests. Write plain prose, no preamble.

`

// consolidate summarises filtered[cursor:len-keepRecent] into
// summary.md and advances the cursor. It returns the new cursor; on
// failure the cursor is unchanged and no summary text is written.
func (m *Manager) consolidate(ctx context.Context, filtered []models.Message, cursor int) (int, error) {
	keepRecent := int(float64(m.threshold) * m.keepRatio)
	if keepRecent < 1 {
		keepRecent = 1
	}
	end := len(filtered) - keepRecent
	if end <= cursor {
		return cursor, nil
	}

	var b strings.Builder
	b.WriteString(consolidationPrompt)
	for _, msg := range filtered[cursor:end] {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := m.complete(ctx, b.String())
	if err != nil {
		return cursor, err
	}
	if summary == "" {
		return cursor, errors.New("model returned an empty summary")
	}

	if err := m.store.AppendSummary(ctx, summary); err != nil {
		return cursor, fmt.Errorf("append summary: %w", err)
	}
	if err := m.store.SaveConsolidatedCursor(ctx, end); err != nil {
		return cursor, fmt.Errorf("save cursor: %w", err)
	}
	m.logger.Info("consolidated history into summary",
		"messages", end-cursor,
		"cursor", end,
	)

	m.maybeRecompress(ctx)
	return end, nil
}

// maybeRecompress rewrites summary.md in place once it outgrows the
// word limit. Failures leave the document untouched.
func (m *Manager) maybeRecompress(ctx context.Context) {
	doc, err := m.store.LoadSummary(ctx)
	if err != nil || len(strings.Fields(doc)) <= summaryWordLimit {
		return
	}

	compressed, err := m.complete(ctx, recompressPrompt+doc)
	if err != nil || compressed == "" {
		m.logger.Warn("summary recompression failed", "error", err)
		return
	}
	if err := m.store.SaveSummary(ctx, compressed+"\n"); err != nil {
		m.logger.Warn("summary recompression failed", "error", err)
	}
}

// complete streams one completion and returns the concatenated text.
func (m *Manager) complete(ctx context.Context, prompt string) (string, error) {
	stream, err := m.llm.Chat(ctx, llm.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
