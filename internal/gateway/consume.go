package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/squidbot/squidbot/internal/agent"
	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/internal/observability"
	"github.com/squidbot/squidbot/internal/tools"
	"github.com/squidbot/squidbot/pkg/models"
)

// consume drives one channel: each inbound message is one agent run,
// executed to completion before the next message on this channel is
// taken. Cross-channel runs proceed in parallel.
func (s *Server) consume(ctx context.Context, ch channels.Channel) {
	defer s.consumerWG.Done()
	logger := s.logger.With("channel", ch.Name())
	for msg := range ch.Messages() {
		s.metrics.MessageReceived(ch.Name())
		logger.Debug("inbound message", "session", msg.Session.ID(), "length", len(msg.Text))
		if err := s.RunAgent(ctx, msg.Session, msg.Text, ch); err != nil {
			logger.Error("agent run failed", "session", msg.Session.ID(), "error", err)
			s.metrics.RecordError("gateway", "run")
			continue
		}
		s.metrics.MessageSent(ch.Name())
	}
	logger.Debug("inbound stream closed")
}

// RunAgent executes one agent run with the per-run extra tools,
// recording metrics and a span around it. The agent and gateway
// commands share this entry point with the channel consumers.
func (s *Server) RunAgent(ctx context.Context, session models.Session, text string, replier agent.Replier) error {
	ctx, span := s.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("channel", session.Channel),
		attribute.String("session", session.ID()),
	))
	defer span.End()

	s.metrics.RunStarted(session.Channel)
	start := time.Now()
	err := s.loop.Run(ctx, session, text, replier,
		agent.WithExtraTools(tools.NewMemoryWriteTool(s.store)))
	status := "success"
	if err != nil {
		status = "error"
		observability.RecordSpanError(span, err)
	}
	s.metrics.RunFinished(session.Channel, status, time.Since(start).Seconds())
	return err
}

// maxSubagentDepth bounds nested delegation; a sub-agent may spawn one
// more level and no further.
const maxSubagentDepth = 2

type subagentDepthKey struct{}

// runSubagent executes a nested agent run for the subagent tool and
// returns the final reply text.
func (s *Server) runSubagent(ctx context.Context, task string) (string, error) {
	depth, _ := ctx.Value(subagentDepthKey{}).(int)
	if depth >= maxSubagentDepth {
		return "", fmt.Errorf("sub-agent nesting limit (%d) reached", maxSubagentDepth)
	}
	ctx = context.WithValue(ctx, subagentDepthKey{}, depth+1)

	session := models.Session{Channel: "subagent", SenderID: uuid.NewString()[:8]}
	s.logger.Info("spawning sub-agent", "session", session.ID(), "depth", depth+1)

	collect := &collectReplier{}
	if err := s.RunAgent(ctx, session, task, collect); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(collect.Text())
	if reply == "" {
		return "", errors.New("sub-agent produced no reply")
	}
	return reply, nil
}

// collectReplier buffers the run's output instead of delivering it.
type collectReplier struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collectReplier) Streaming() bool { return false }

func (c *collectReplier) Send(_ context.Context, _ models.Session, text string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(text)
	return nil
}

func (c *collectReplier) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
