package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/squidbot/squidbot/pkg/models"
)

// SearchMatch is one hit from a history scan with up to one message of
// surrounding context.
type SearchMatch struct {
	Before *models.Message
	Hit    models.Message
	After  *models.Message
}

// SearchStream scans the history stream in order and collects messages the
// match function accepts, each with its immediate neighbors. The scan stops
// as soon as maxResults hits have their after-context settled, so it reads
// only as much of the stream as the result set needs. maxResults <= 0 means
// unlimited. days > 0 restricts the scan to messages younger than that many
// days; undated messages always pass.
func (s *Store) SearchStream(ctx context.Context, match func(models.Message) bool, maxResults, days int) ([]SearchMatch, error) {
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

	var cutoff time.Time
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	var (
		matches     []SearchMatch
		prev        *models.Message
		captureNext bool
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return matches, err
		}
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			msg, ok := parseHistoryLine(line)
			switch {
			case !ok:
				// Malformed lines neither match nor count as context.
			case !cutoff.IsZero() && !msg.Timestamp.IsZero() && msg.Timestamp.Before(cutoff):
				// Too old. Skipped messages do not become context either.
			default:
				if match(msg) {
					matches = append(matches, SearchMatch{Before: prev, Hit: msg})
					captureNext = true
				} else if captureNext {
					after := msg
					matches[len(matches)-1].After = &after
					captureNext = false
				}
				current := msg
				prev = &current
				if maxResults > 0 && len(matches) >= maxResults && !captureNext {
					return matches, nil
				}
			}
		}
		if rerr == io.EOF {
			return matches, nil
		}
		if rerr != nil {
			return matches, fmt.Errorf("read history: %w", rerr)
		}
	}
}
