package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// historyMeta is the on-disk shape of history.meta.json.
type historyMeta struct {
	LastConsolidated int `json:"last_consolidated"`
}

// LoadConsolidatedCursor returns how many filtered history messages have
// already been folded into the summary. When history.meta.json does not
// exist it falls back to the legacy per-session cursor files and returns
// the furthest cursor found there, or 0 when there is none.
func (s *Store) LoadConsolidatedCursor(ctx context.Context) (int, error) {
	data, err := os.ReadFile(s.metaPath())
	if os.IsNotExist(err) {
		return s.legacyCursor()
	}
	if err != nil {
		return 0, fmt.Errorf("load consolidation cursor: %w", err)
	}
	var meta historyMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("corrupt history.meta.json, resetting cursor", "error", err)
		return 0, nil
	}
	if meta.LastConsolidated < 0 {
		return 0, nil
	}
	return meta.LastConsolidated, nil
}

// SaveConsolidatedCursor atomically records the consolidation cursor.
func (s *Store) SaveConsolidatedCursor(ctx context.Context, n int) error {
	if n < 0 {
		n = 0
	}
	data, err := json.Marshal(historyMeta{LastConsolidated: n})
	if err != nil {
		return fmt.Errorf("encode consolidation cursor: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.metaPath(), data, 0o644); err != nil {
		return fmt.Errorf("save consolidation cursor: %w", err)
	}
	return nil
}

// legacyCursor scans sessions/*.meta.json, the pre-global layout, and
// returns the largest cursor recorded there. All legacy cursors counted
// against the same global stream, so the maximum is the only value that
// never re-consolidates already summarized messages.
func (s *Store) legacyCursor() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, sessionsDir))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan legacy session metadata: %w", err)
	}
	cursor := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.base, sessionsDir, entry.Name()))
		if err != nil {
			continue
		}
		var meta historyMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if meta.LastConsolidated > cursor {
			cursor = meta.LastConsolidated
		}
	}
	if cursor > 0 {
		s.logger.Info("migrated consolidation cursor from legacy session metadata", "cursor", cursor)
	}
	return cursor, nil
}
