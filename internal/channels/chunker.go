package channels

import (
	"strings"
	"unicode"
)

// SplitMessage splits reply text into pieces of at most max runes so
// adapters can respect platform message-length limits. Breaks prefer,
// in order: paragraph boundaries, line boundaries, sentence endings,
// word boundaries, then a hard cut. A hard cut never lands inside a
// multibyte character.
func SplitMessage(text string, max int) []string {
	if max <= 0 || text == "" {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > max {
		cut := breakPoint(remaining, max)
		chunk := strings.TrimRightFunc(string(remaining[:cut]), unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest := strings.TrimLeftFunc(string(remaining[cut:]), unicode.IsSpace)
		remaining = []rune(rest)
	}
	if tail := strings.TrimSpace(string(remaining)); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

func breakPoint(runes []rune, max int) int {
	window := string(runes[:max])

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return len([]rune(window[:idx])) + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return len([]rune(window[:idx])) + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return len([]rune(window[:idx])) + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return len([]rune(window[:idx]))
	}
	return max
}
