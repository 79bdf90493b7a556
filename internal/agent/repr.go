package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/squidbot/squidbot/pkg/models"
)

// renderCall formats a tool call as name(key='value', n=3) for the
// tool_call audit line. Keys keep the order of the raw argument
// payload; when the raw payload is unusable the parsed arguments are
// rendered in sorted key order instead.
func renderCall(call models.ToolCall) string {
	pairs, ok := rawPairs(call.Raw)
	if !ok {
		pairs = sortedPairs(call.Arguments)
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+reprValue(p.value))
	}
	return call.Name + "(" + strings.Join(parts, ", ") + ")"
}

type argPair struct {
	key   string
	value any
}

// rawPairs decodes a JSON object while preserving key order, which
// plain map decoding loses.
func rawPairs(rawArgs json.RawMessage) ([]argPair, bool) {
	raw := strings.TrimSpace(string(rawArgs))
	if raw == "" {
		return nil, true
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}
	var pairs []argPair
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		pairs = append(pairs, argPair{key: key, value: value})
	}
	return pairs, true
}

func sortedPairs(args map[string]any) []argPair {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]argPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, argPair{key: k, value: args[k]})
	}
	return pairs
}

// reprValue renders strings single-quoted and everything else as
// compact JSON.
func reprValue(v any) string {
	if s, ok := v.(string); ok {
		return quote(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// quote single-quotes a string, escaping backslashes, quotes, and
// control whitespace so the audit line stays one line.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
