// Package gateway composes the runtime: the store, skills, memory,
// model pool, tool registry and agent loop are built from config, the
// enabled channels feed inbound messages into agent runs, and the cron
// scheduler and heartbeat dispatch into the same loop.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/squidbot/squidbot/internal/agent"
	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/internal/channels/discord"
	"github.com/squidbot/squidbot/internal/channels/email"
	"github.com/squidbot/squidbot/internal/channels/matrix"
	"github.com/squidbot/squidbot/internal/channels/slack"
	"github.com/squidbot/squidbot/internal/channels/telegram"
	"github.com/squidbot/squidbot/internal/channels/terminal"
	"github.com/squidbot/squidbot/internal/config"
	"github.com/squidbot/squidbot/internal/cron"
	"github.com/squidbot/squidbot/internal/llm"
	"github.com/squidbot/squidbot/internal/memory"
	"github.com/squidbot/squidbot/internal/observability"
	"github.com/squidbot/squidbot/internal/skills"
	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/internal/tools"
)

// Server owns every runtime component and their lifecycle.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	version  string
	store    *store.Store
	skills   *skills.Loader
	memory   *memory.Manager
	pool     *llm.Pool
	registry *tools.Registry
	loop     *agent.Loop
	channels *channels.Registry
	cron     *cron.Scheduler
	metrics  *observability.Metrics
	tracer   trace.Tracer

	httpServer  *http.Server
	stopTracing func(context.Context) error

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	consumerWG sync.WaitGroup
	bgWG       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported in traces.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New builds the full runtime from cfg without starting anything.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(cfg.BaseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: open store: %w", err)
	}

	clients, err := buildLLMClients(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := llm.NewPool(clients, logger)
	if err != nil {
		return nil, err
	}

	loader := skills.NewLoader([]string{st.SkillsDir()}, skills.WithLogger(logger))

	aliases := make([]memory.Alias, 0, len(cfg.Aliases))
	for _, a := range cfg.Aliases {
		aliases = append(aliases, memory.Alias{Address: a.Address, Channel: a.Channel, Label: a.Label})
	}
	mem := memory.NewManager(st,
		memory.WithSkills(loader),
		memory.WithLLM(pool),
		memory.WithLogger(logger),
		memory.WithConsolidation(cfg.Consolidation.Threshold, cfg.Consolidation.KeepRecentRatio),
		memory.WithAliases(aliases),
	)

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "gateway"),
		store:    st,
		skills:   loader,
		memory:   mem,
		pool:     pool,
		channels: channels.NewRegistry(),
		metrics:  observability.NewMetrics(prometheus.DefaultRegisterer),
		tracer:   observability.Tracer("gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = buildRegistry(cfg, st, logger)
	s.loop = agent.New(mem, s.registry, pool, cfg.SystemPrompt, logger)
	// Registered after the loop exists so its runner can spawn nested
	// runs through it.
	s.registry.Register(tools.NewSubagentTool(s.runSubagent))

	s.cron = cron.NewScheduler(st, s.dispatchCronJob, cron.WithLogger(logger))

	if err := s.buildChannels(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildLLMClients maps the configured model list onto provider
// adapters, preserving fallback order.
func buildLLMClients(cfg *config.Config) ([]llm.Client, error) {
	clients := make([]llm.Client, 0, len(cfg.LLM.Models))
	for i, m := range cfg.LLM.Models {
		var (
			client llm.Client
			err    error
		)
		switch m.Provider {
		case "anthropic":
			client, err = llm.NewAnthropicClient(llm.AnthropicConfig{
				APIKey:    m.APIKey,
				Model:     m.Model,
				BaseURL:   m.BaseURL,
				MaxTokens: cfg.LLM.MaxTokens,
			})
		case "openai", "openrouter", "ollama":
			client, err = llm.NewOpenAIClient(llm.OpenAIConfig{
				Provider:  m.Provider,
				APIKey:    m.APIKey,
				Model:     m.Model,
				BaseURL:   m.BaseURL,
				MaxTokens: cfg.LLM.MaxTokens,
			})
		case "gemini":
			client, err = llm.NewGeminiClient(llm.GeminiConfig{
				APIKey:    m.APIKey,
				Model:     m.Model,
				MaxTokens: cfg.LLM.MaxTokens,
			})
		case "bedrock":
			client, err = llm.NewBedrockClient(llm.BedrockConfig{
				Region:    m.Region,
				Model:     m.Model,
				MaxTokens: cfg.LLM.MaxTokens,
			})
		default:
			err = fmt.Errorf("unsupported provider %q", m.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("gateway: llm.models[%d]: %w", i, err)
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("gateway: no llm models configured")
	}
	return clients, nil
}

// buildRegistry registers the built-in tools over the store workspace.
func buildRegistry(cfg *config.Config, st *store.Store, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)
	workspace := st.WorkspaceDir()
	registry.Register(tools.NewShellTool(workspace, cfg.Tools.Shell.Timeout))
	registry.Register(tools.NewReadFileTool(workspace))
	registry.Register(tools.NewWriteFileTool(workspace))
	registry.Register(tools.NewListDirTool(workspace))
	registry.Register(tools.NewHistorySearchTool(st))
	if cfg.Tools.WebSearch.APIKey != "" {
		registry.Register(tools.NewWebSearchTool(cfg.Tools.WebSearch.APIKey))
	}
	return registry
}

// buildChannels constructs the adapters enabled in config.
func (s *Server) buildChannels() error {
	cfg := s.cfg.Channels
	if cfg.Terminal.Enabled {
		s.channels.Register(terminal.New(terminal.Config{Logger: s.logger}))
	}
	if cfg.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.BotToken,
			AllowedChats: cfg.Telegram.AllowedChats,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: telegram: %w", err)
		}
		s.channels.Register(ch)
	}
	if cfg.Discord.Enabled {
		ch, err := discord.New(discord.Config{
			Token:        cfg.Discord.BotToken,
			AllowedUsers: cfg.Discord.AllowedUsers,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: discord: %w", err)
		}
		s.channels.Register(ch)
	}
	if cfg.Slack.Enabled {
		ch, err := slack.New(slack.Config{
			BotToken:     cfg.Slack.BotToken,
			AppToken:     cfg.Slack.AppToken,
			AllowedUsers: cfg.Slack.AllowedUsers,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: slack: %w", err)
		}
		s.channels.Register(ch)
	}
	if cfg.Matrix.Enabled {
		ch, err := matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedRooms: cfg.Matrix.AllowedRooms,
			Logger:       s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: matrix: %w", err)
		}
		s.channels.Register(ch)
	}
	if cfg.Email.Enabled {
		ch, err := email.New(email.Config{
			IMAPAddr:       cfg.Email.IMAPAddr,
			SMTPAddr:       cfg.Email.SMTPAddr,
			Username:       cfg.Email.Username,
			Password:       cfg.Email.Password,
			From:           cfg.Email.From,
			Mailbox:        cfg.Email.Mailbox,
			PollInterval:   cfg.Email.PollInterval,
			AllowedSenders: cfg.Email.AllowedSenders,
			Logger:         s.logger,
		})
		if err != nil {
			return fmt.Errorf("gateway: email: %w", err)
		}
		s.channels.Register(ch)
	}
	return nil
}

// Start brings up tracing, the metrics listener, the channels and
// their consumers, the cron scheduler and the heartbeat. It returns
// once everything is running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("gateway: already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	stopTracing, err := observability.SetupTracing(runCtx, observability.TraceConfig{
		ServiceName:    "squidbot",
		ServiceVersion: s.version,
		Endpoint:       s.cfg.Observability.OTLPEndpoint,
		Insecure:       s.cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	s.stopTracing = stopTracing

	if addr := s.cfg.Observability.MetricsAddr; addr != "" {
		s.startMetricsServer(addr)
	}

	if err := s.channels.StartAll(runCtx); err != nil {
		return fmt.Errorf("gateway: start channels: %w", err)
	}
	for _, ch := range s.channels.All() {
		s.consumerWG.Add(1)
		go s.consume(runCtx, ch)
	}

	if err := s.cron.Start(runCtx); err != nil {
		return fmt.Errorf("gateway: start cron: %w", err)
	}

	// Reload skills when their files change. Best effort: a missing
	// watcher just means edits show up after the list cache expires.
	if err := s.skills.Watch(runCtx); err != nil {
		s.logger.Warn("skills watcher unavailable", "error", err)
	}

	if s.cfg.Heartbeat.Enabled {
		s.bgWG.Add(1)
		go s.heartbeatLoop(runCtx)
	}

	names := make([]string, 0)
	for _, ch := range s.channels.All() {
		names = append(names, ch.Name())
	}
	s.logger.Info("gateway started",
		"channels", names,
		"heartbeat", s.cfg.Heartbeat.Enabled,
		"metrics_addr", s.cfg.Observability.MetricsAddr)
	return nil
}

// Stop shuts everything down. Channel adapters close their inbound
// streams first so consumers finish the run they are on and drain;
// only then are the background loops cancelled, so a clean stop never
// cuts an inbound reply short. ctx bounds how long draining may take.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("gateway stopping")
	if err := s.channels.StopAll(); err != nil {
		s.logger.Error("error stopping channels", "error", err)
	}
	drainErr := waitGroup(ctx, &s.consumerWG)

	cancel()
	if err := s.cron.Stop(ctx); err != nil {
		s.logger.Error("error stopping cron", "error", err)
	}
	_ = s.skills.Close()
	if err := waitGroup(ctx, &s.bgWG); err != nil && drainErr == nil {
		drainErr = err
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error stopping metrics server", "error", err)
		}
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("error stopping tracing", "error", err)
		}
	}
	s.logger.Info("gateway stopped")
	return drainErr
}

// waitGroup waits for wg, giving up when ctx expires.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
