package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/squidbot/squidbot/pkg/models"
)

// AppendMessage appends one message to the global history stream as a
// single JSON line. The write happens under an exclusive advisory lock so
// concurrent appenders interleave at line granularity.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode history message: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.historyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if err := lockExclusive(f); err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	defer unlock(f)

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	s.logger.Debug("appended history message",
		"session_id", sessionID,
		"role", msg.Role,
	)
	return nil
}

// LoadHistory reads the entire history stream in file order. A missing file
// is an empty history. Lines that fail to decode are counted, logged once,
// and skipped.
func (s *Store) LoadHistory(ctx context.Context) ([]models.Message, error) {
	f, err := os.Open(s.historyPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if lockShared(f) == nil {
		defer unlock(f)
	}

	var (
		msgs    []models.Message
		skipped skipCounter
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			if msg, ok := parseHistoryLine(line); ok {
				msgs = append(msgs, msg)
			} else {
				skipped.add(line)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return msgs, fmt.Errorf("read history: %w", rerr)
		}
	}
	skipped.warn(s.logger, "load history")
	return msgs, nil
}

// parseHistoryLine decodes one history line. Invalid UTF-8 is replaced
// before decoding. A line only counts as a message when it decodes and
// carries a known role.
func parseHistoryLine(line []byte) (models.Message, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return models.Message{}, false
	}
	if !utf8.Valid(line) {
		line = []byte(strings.ToValidUTF8(string(line), "�"))
	}
	var msg models.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return models.Message{}, false
	}
	if !msg.Role.Valid() {
		return models.Message{}, false
	}
	return msg, true
}

// skipCounter accumulates malformed-line stats so a degraded read logs one
// warning instead of one per line.
type skipCounter struct {
	count   int
	preview string
}

func (c *skipCounter) add(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	c.count++
	if c.preview == "" {
		p := strings.ToValidUTF8(string(line), "�")
		if len(p) > 120 {
			p = p[:120]
		}
		c.preview = p
	}
}

func (c *skipCounter) warn(logger *slog.Logger, op string) {
	if c.count == 0 {
		return
	}
	logger.Warn("skipped malformed history lines",
		"op", op,
		"count", c.count,
		"first_line", c.preview,
	)
}
