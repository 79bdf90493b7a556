package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/pkg/models"
)

const (
	defaultHistoryResults = 5
	historyLineLimit      = 300
)

// HistorySearchTool searches the conversation history and returns matches
// with one message of context on each side.
type HistorySearchTool struct {
	store *store.Store
}

func NewHistorySearchTool(st *store.Store) *HistorySearchTool {
	return &HistorySearchTool{store: st}
}

func (t *HistorySearchTool) Name() string { return "history_search" }

func (t *HistorySearchTool) Description() string {
	return "Search past conversation history for a phrase and return matching messages with context."
}

func (t *HistorySearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for (case-insensitive).",
			},
			"days": map[string]any{
				"type":        "integer",
				"description": "Only search messages from the last N days.",
				"minimum":     1,
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of matches to return (default 5).",
				"minimum":     1,
			},
		},
		"required": []string{"query"},
	}
}

// searchableRole reports whether a role participates in history search,
// both as a hit and as rendered context.
func searchableRole(r models.Role) bool {
	switch r {
	case models.RoleUser, models.RoleAssistant, models.RoleToolCall, models.RoleToolResult:
		return true
	}
	return false
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "USER"
	case models.RoleAssistant:
		return "ASSISTANT"
	case models.RoleToolCall:
		return "TOOL CALL"
	case models.RoleToolResult:
		return "TOOL RESULT"
	}
	return strings.ToUpper(string(r))
}

func (t *HistorySearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var input struct {
		Query      string `json:"query"`
		Days       int    `json:"days"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = defaultHistoryResults
	}

	needle := strings.ToLower(query)
	match := func(m models.Message) bool {
		return searchableRole(m.Role) && strings.Contains(strings.ToLower(m.Content), needle)
	}
	matches, err := t.store.SearchStream(ctx, match, maxResults, input.Days)
	if err != nil {
		return "", fmt.Errorf("search history: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for '%s'.", query), nil
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		var lines []string
		if line, ok := contextLine(m.Before); ok {
			lines = append(lines, line)
		}
		lines = append(lines, "**"+messageLine(m.Hit)+"**")
		if line, ok := contextLine(m.After); ok {
			lines = append(lines, line)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	header := fmt.Sprintf("Found %d match(es) for '%s':", len(matches), query)
	return header + "\n\n" + strings.Join(blocks, "\n\n"), nil
}

// contextLine renders a neighbor message, or reports false when it should
// be omitted.
func contextLine(m *models.Message) (string, bool) {
	if m == nil || !searchableRole(m.Role) || strings.TrimSpace(m.Content) == "" {
		return "", false
	}
	return messageLine(*m), true
}

func messageLine(m models.Message) string {
	return roleLabel(m.Role) + ": " + truncateLine(m.Content, historyLineLimit)
}

// truncateLine flattens newlines and cuts the line at limit runes with an
// ellipsis.
func truncateLine(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
