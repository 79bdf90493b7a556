package gateway

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/squidbot/squidbot/internal/agent"
	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/internal/config"
	"github.com/squidbot/squidbot/internal/cron"
	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/internal/memory"
	"github.com/squidbot/squidbot/internal/observability"
	"github.com/squidbot/squidbot/internal/skills"
	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/internal/tools"
	"github.com/squidbot/squidbot/pkg/models"
)

// scriptClient returns one scripted reply per Chat call, repeating the
// last one once the script runs out.
type scriptClient struct {
	replies []string

	mu    sync.Mutex
	calls int
}

func (c *scriptClient) Model() string { return "script-1" }

func (c *scriptClient) Chat(_ context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	i := c.calls
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	reply := c.replies[i]
	c.calls++
	c.mu.Unlock()

	out := make(chan llm.Chunk, 2)
	out <- llm.Chunk{Text: reply}
	out <- llm.Chunk{Done: true}
	close(out)
	return out, nil
}

type fakeChannel struct {
	name    string
	inbound chan channels.InboundMessage
	once    sync.Once

	mu   sync.Mutex
	sent []string
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, inbound: make(chan channels.InboundMessage, 8)}
}

func (f *fakeChannel) Name() string                { return f.name }
func (f *fakeChannel) Streaming() bool             { return false }
func (f *fakeChannel) Start(context.Context) error { return nil }

func (f *fakeChannel) Stop() error {
	f.once.Do(func() { close(f.inbound) })
	return nil
}

func (f *fakeChannel) Messages() <-chan channels.InboundMessage { return f.inbound }

func (f *fakeChannel) Send(_ context.Context, _ models.Session, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// newTestServer wires a Server around a scripted model and a temp
// store, bypassing New so tests control the channel set.
func newTestServer(t *testing.T, replies ...string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	client := &scriptClient{replies: replies}
	loader := skills.NewLoader([]string{st.SkillsDir()}, skills.WithLogger(logger))
	mem := memory.NewManager(st, memory.WithLogger(logger))
	cfg := &config.Config{
		Heartbeat: config.HeartbeatConfig{
			Enabled:  false,
			Interval: time.Minute,
			Channel:  "cli:local",
			Prompt:   "Heartbeat check-in.",
		},
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		skills:   loader,
		memory:   mem,
		registry: tools.NewRegistry(logger),
		channels: channels.NewRegistry(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		tracer:   observability.Tracer("gateway-test"),
	}
	s.loop = agent.New(mem, s.registry, client, "You are a test assistant.", logger)
	s.registry.Register(tools.NewSubagentTool(s.runSubagent))
	s.cron = cron.NewScheduler(st, s.dispatchCronJob, cron.WithLogger(logger))
	return s
}

func TestRunAgentDeliversReply(t *testing.T) {
	s := newTestServer(t, "hello there")
	collect := &collectReplier{}
	session := models.Session{Channel: "cli", SenderID: "local"}

	if err := s.RunAgent(context.Background(), session, "hi", collect); err != nil {
		t.Fatalf("RunAgent: %v", err)
	}
	if got := collect.Text(); got != "hello there" {
		t.Fatalf("reply = %q, want %q", got, "hello there")
	}
	if n := testutil.CollectAndCount(s.metrics.RunDuration); n != 1 {
		t.Errorf("run duration series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(s.metrics.ActiveRuns.WithLabelValues("cli")); got != 0 {
		t.Errorf("active runs after completion = %v, want 0", got)
	}
}

func TestConsumeRunsEachInboundMessage(t *testing.T) {
	s := newTestServer(t, "ack")
	fc := newFakeChannel("cli")
	fc.inbound <- channels.InboundMessage{
		Session: models.Session{Channel: "cli", SenderID: "local"},
		Text:    "are you there?",
	}
	_ = fc.Stop()

	s.consumerWG.Add(1)
	go s.consume(context.Background(), fc)
	s.consumerWG.Wait()

	sent := fc.Sent()
	if len(sent) != 1 || sent[0] != "ack" {
		t.Fatalf("sent = %q, want [ack]", sent)
	}
	if got := testutil.ToFloat64(s.metrics.Messages.WithLabelValues("cli", "inbound")); got != 1 {
		t.Errorf("inbound counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.Messages.WithLabelValues("cli", "outbound")); got != 1 {
		t.Errorf("outbound counter = %v, want 1", got)
	}
}

func TestRunSubagentReturnsFinalReply(t *testing.T) {
	s := newTestServer(t, "subtask complete")
	got, err := s.runSubagent(context.Background(), "summarize the report")
	if err != nil {
		t.Fatalf("runSubagent: %v", err)
	}
	if got != "subtask complete" {
		t.Fatalf("reply = %q, want %q", got, "subtask complete")
	}
}

func TestRunSubagentDepthLimit(t *testing.T) {
	s := newTestServer(t, "should not run")
	ctx := context.WithValue(context.Background(), subagentDepthKey{}, maxSubagentDepth)
	_, err := s.runSubagent(ctx, "go deeper")
	if err == nil || !strings.Contains(err.Error(), "nesting limit") {
		t.Fatalf("err = %v, want nesting limit error", err)
	}
}

func TestDispatchCronJobDeliversToChannel(t *testing.T) {
	s := newTestServer(t, "reminder sent")
	fc := newFakeChannel("cli")
	s.channels.Register(fc)

	job := models.CronJob{
		ID:       "job-1",
		Name:     "standup",
		Schedule: "0 9 * * *",
		Message:  "Write the standup summary.",
		Channel:  "cli:local",
		Enabled:  true,
	}
	s.dispatchCronJob(context.Background(), job)

	sent := fc.Sent()
	if len(sent) != 1 || sent[0] != "reminder sent" {
		t.Fatalf("sent = %q, want [reminder sent]", sent)
	}
	if got := testutil.ToFloat64(s.metrics.CronDispatches.WithLabelValues("job-1", "ok")); got != 1 {
		t.Errorf("cron ok counter = %v, want 1", got)
	}
}

func TestDispatchCronJobUnknownChannel(t *testing.T) {
	s := newTestServer(t, "unused")
	job := models.CronJob{ID: "job-2", Message: "ping", Channel: "telegram:12345"}
	s.dispatchCronJob(context.Background(), job)

	if got := testutil.ToFloat64(s.metrics.CronDispatches.WithLabelValues("job-2", "unknown_channel")); got != 1 {
		t.Errorf("unknown_channel counter = %v, want 1", got)
	}
}

func TestRunHeartbeatSwallowsAllClear(t *testing.T) {
	s := newTestServer(t, "HEARTBEAT_OK")
	fc := newFakeChannel("cli")
	s.channels.Register(fc)

	s.runHeartbeat(context.Background())

	if sent := fc.Sent(); len(sent) != 0 {
		t.Fatalf("sent = %q, want nothing", sent)
	}
	if got := testutil.ToFloat64(s.metrics.Heartbeats.WithLabelValues("ok")); got != 1 {
		t.Errorf("heartbeat ok counter = %v, want 1", got)
	}
}

func TestRunHeartbeatSurfacesReport(t *testing.T) {
	s := newTestServer(t, "HEARTBEAT_OK Your certificate expires tomorrow.")
	fc := newFakeChannel("cli")
	s.channels.Register(fc)

	s.runHeartbeat(context.Background())

	sent := fc.Sent()
	if len(sent) != 1 || sent[0] != "Your certificate expires tomorrow." {
		t.Fatalf("sent = %q, want the stripped report", sent)
	}
	if got := testutil.ToFloat64(s.metrics.Heartbeats.WithLabelValues("surfaced")); got != 1 {
		t.Errorf("heartbeat surfaced counter = %v, want 1", got)
	}
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t, "unused")
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stopping again is a no-op.
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
