package store

import (
	"context"
	"fmt"
	"strings"
)

// LoadMemoryDoc returns the agent-curated long-term memory document, or ""
// when it does not exist yet.
func (s *Store) LoadMemoryDoc(ctx context.Context) (string, error) {
	text, err := readOptional(s.memoryPath())
	if err != nil {
		return "", fmt.Errorf("load memory doc: %w", err)
	}
	return text, nil
}

// SaveMemoryDoc atomically replaces the long-term memory document.
func (s *Store) SaveMemoryDoc(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.memoryPath(), []byte(text), 0o644); err != nil {
		return fmt.Errorf("save memory doc: %w", err)
	}
	return nil
}

// LoadSummary returns the rolling conversation summary, or "" when no
// consolidation has run yet.
func (s *Store) LoadSummary(ctx context.Context) (string, error) {
	text, err := readOptional(s.summaryPath())
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	return text, nil
}

// AppendSummary adds one consolidated chunk to the rolling summary,
// separated from existing content by a blank line.
func (s *Store) AppendSummary(ctx context.Context, chunk string) error {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readOptional(s.summaryPath())
	if err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	var b strings.Builder
	if trimmed := strings.TrimSpace(existing); trimmed != "" {
		b.WriteString(trimmed)
		b.WriteString("\n\n")
	}
	b.WriteString(chunk)
	b.WriteString("\n")
	if err := writeFileAtomic(s.summaryPath(), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// SaveSummary atomically replaces the rolling summary. Meta-consolidation
// uses this to rewrite a summary that has grown too large.
func (s *Store) SaveSummary(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.summaryPath(), []byte(text), 0o644); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}
