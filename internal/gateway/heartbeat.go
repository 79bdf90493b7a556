package gateway

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// HeartbeatToken is the marker the system prompt asks the model to
// reply with when a heartbeat run finds nothing worth surfacing.
const HeartbeatToken = "HEARTBEAT_OK"

var (
	heartbeatPrefixRe = regexp.MustCompile(`^\s*` + HeartbeatToken + `\b\W*`)
	heartbeatSuffixRe = regexp.MustCompile(`\s*\b` + HeartbeatToken + `\b\W*$`)
)

// hasHeartbeatToken reports whether the reply carries the token at
// either end. A token embedded mid-sentence is left alone.
func hasHeartbeatToken(text string) bool {
	return heartbeatPrefixRe.MatchString(text) || heartbeatSuffixRe.MatchString(text)
}

// stripHeartbeatToken removes the token from both ends and trims the
// remainder.
func stripHeartbeatToken(text string) string {
	text = heartbeatPrefixRe.ReplaceAllString(text, "")
	text = heartbeatSuffixRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.bgWG.Done()
	interval := s.cfg.Heartbeat.Interval
	s.logger.Info("heartbeat enabled", "interval", interval.String(), "channel", s.cfg.Heartbeat.Channel)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runHeartbeat(ctx)
		}
	}
}

// runHeartbeat executes one heartbeat agent run. Replies that are just
// the token are swallowed; anything else is delivered to the
// configured session.
func (s *Server) runHeartbeat(ctx context.Context) {
	session, err := models.ParseSessionID(s.cfg.Heartbeat.Channel)
	if err != nil {
		s.logger.Warn("heartbeat delivery address invalid", "channel", s.cfg.Heartbeat.Channel, "error", err)
		s.metrics.HeartbeatResult("error")
		return
	}
	ch, ok := s.channels.Get(session.Channel)
	if !ok {
		s.logger.Warn("heartbeat targets a channel that is not running", "channel", session.Channel)
		s.metrics.HeartbeatResult("error")
		return
	}

	replier := &heartbeatReplier{target: ch}
	if err := s.RunAgent(ctx, session, s.cfg.Heartbeat.Prompt, replier); err != nil {
		s.logger.Error("heartbeat run failed", "error", err)
		s.metrics.HeartbeatResult("error")
		return
	}
	if replier.Surfaced() {
		s.logger.Info("heartbeat surfaced a report", "session", session.ID())
		s.metrics.HeartbeatResult("surfaced")
		return
	}
	s.logger.Debug("heartbeat ok")
	s.metrics.HeartbeatResult("ok")
}

// heartbeatReplier delivers heartbeat output through the target
// channel, filtering the all-clear token first. It reports
// non-streaming so the run produces a single final reply that can be
// inspected before anything reaches the user.
type heartbeatReplier struct {
	target channels.Channel

	mu       sync.Mutex
	surfaced bool
}

func (r *heartbeatReplier) Streaming() bool { return false }

func (r *heartbeatReplier) Send(ctx context.Context, session models.Session, text string, final bool) error {
	if hasHeartbeatToken(text) {
		text = stripHeartbeatToken(text)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r.mu.Lock()
	r.surfaced = true
	r.mu.Unlock()
	return r.target.Send(ctx, session, text, final)
}

func (r *heartbeatReplier) Surfaced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaced
}
