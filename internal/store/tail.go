package store

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/squidbot/squidbot/pkg/models"
)

// tailBlockSize is how much the tail reader pulls per backward step.
const tailBlockSize = 64 * 1024

// LoadRecentHistory returns the last n valid messages in chronological
// order. It reads the file backward in fixed-size blocks, so the cost is
// bounded by the tail it needs, not the stream length. n <= 0 returns an
// empty slice without touching the file.
func (s *Store) LoadRecentHistory(ctx context.Context, n int) ([]models.Message, error) {
	if n <= 0 {
		return []models.Message{}, nil
	}

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

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat history: %w", err)
	}

	var (
		buf     []byte // suffix of the file starting at offset start
		start   = info.Size()
		msgs    []models.Message
		skipped skipCounter
	)
	for start > 0 {
		readStart := start - tailBlockSize
		if readStart < 0 {
			readStart = 0
		}
		block := make([]byte, start-readStart)
		if _, err := f.ReadAt(block, readStart); err != nil {
			return nil, fmt.Errorf("read history tail: %w", err)
		}
		buf = append(block, buf...)
		start = readStart

		// Unless we reached the top of the file, the first line in the
		// buffer may be a fragment of a longer one. Only lines after the
		// first newline are known complete.
		candidate := buf
		if start > 0 {
			if i := bytes.IndexByte(buf, '\n'); i >= 0 {
				candidate = buf[i+1:]
			} else {
				candidate = nil
			}
		}

		msgs = msgs[:0]
		skipped = skipCounter{}
		for _, line := range bytes.Split(candidate, []byte{'\n'}) {
			if msg, ok := parseHistoryLine(line); ok {
				msgs = append(msgs, msg)
			} else {
				skipped.add(line)
			}
		}
		if len(msgs) >= n {
			break
		}
	}

	skipped.warn(s.logger, "load recent history")
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}
