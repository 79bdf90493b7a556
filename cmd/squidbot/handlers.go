package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/squidbot/squidbot/internal/channels/terminal"
	"github.com/squidbot/squidbot/internal/config"
	"github.com/squidbot/squidbot/internal/cron"
	"github.com/squidbot/squidbot/internal/gateway"
	"github.com/squidbot/squidbot/internal/observability"
	"github.com/squidbot/squidbot/internal/onboard"
	"github.com/squidbot/squidbot/internal/skills"
	"github.com/squidbot/squidbot/internal/store"
	"github.com/squidbot/squidbot/pkg/models"
)

// runOnboard handles the onboard command.
func runOnboard(cmd *cobra.Command, opts *onboard.Options, nonInteractive bool) error {
	if !nonInteractive {
		reader := bufio.NewReader(cmd.InOrStdin())
		if strings.TrimSpace(opts.Provider) == "" {
			opts.Provider = promptString(reader, "Model provider (anthropic/openai/openrouter/ollama/gemini/bedrock)", "anthropic")
		}
		if strings.TrimSpace(opts.Model) == "" {
			opts.Model = promptString(reader, "Model", onboard.DefaultModel(opts.Provider))
		}
		if strings.TrimSpace(opts.APIKey) == "" {
			opts.APIKey = promptString(reader, "Provider API key", "")
		}
		opts.EnableTelegram = promptBool(reader, "Enable Telegram?", opts.EnableTelegram)
		if opts.EnableTelegram && strings.TrimSpace(opts.TelegramToken) == "" {
			opts.TelegramToken = promptString(reader, "Telegram bot token", "")
		}
		opts.EnableDiscord = promptBool(reader, "Enable Discord?", opts.EnableDiscord)
		if opts.EnableDiscord && strings.TrimSpace(opts.DiscordToken) == "" {
			opts.DiscordToken = promptString(reader, "Discord bot token", "")
		}
		opts.EnableSlack = promptBool(reader, "Enable Slack?", opts.EnableSlack)
		if opts.EnableSlack {
			if strings.TrimSpace(opts.SlackBotToken) == "" {
				opts.SlackBotToken = promptString(reader, "Slack bot token", "")
			}
			if strings.TrimSpace(opts.SlackAppToken) == "" {
				opts.SlackAppToken = promptString(reader, "Slack app token", "")
			}
		}
		opts.EnableHeartbeat = promptBool(reader, "Enable the heartbeat?", opts.EnableHeartbeat)
	}

	if strings.TrimSpace(opts.ConfigPath) == "" {
		opts.ConfigPath = config.DefaultPath()
	}
	base := strings.TrimSpace(opts.BaseDir)
	if base == "" {
		base = config.DefaultBaseDir()
	}

	raw := onboard.BuildConfig(*opts)
	if err := onboard.WriteConfig(opts.ConfigPath, raw); err != nil {
		return err
	}
	result, err := onboard.EnsureLayout(base, onboard.DefaultSeedFiles(), false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config written: %s\n", opts.ConfigPath)
	fmt.Fprintf(out, "Base directory ready: %s\n", base)
	if len(result.Created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range result.Created {
			fmt.Fprintf(out, "  - %s\n", path)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintln(out, "Skipped (already exists):")
		for _, path := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", path)
		}
	}
	return nil
}

// runAgent handles the agent command: one terminal session against the
// full runtime, without starting the other channels.
func runAgent(ctx context.Context, configPath, message string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Keep the terminal clean; warnings and errors still come through.
	level := "warn"
	if cfg.Log.Level == "debug" {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "text"})
	slog.SetDefault(logger)

	srv, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	term := terminal.New(terminal.Config{Logger: logger})

	if strings.TrimSpace(message) != "" {
		session := models.Session{Channel: "cli", SenderID: "local"}
		err := srv.RunAgent(ctx, session, message, term)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if err := term.Start(ctx); err != nil {
		return fmt.Errorf("failed to start terminal: %w", err)
	}
	defer func() { _ = term.Stop() }()

	for msg := range term.Messages() {
		if err := srv.RunAgent(ctx, msg.Session, msg.Text, term); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	return nil
}

// runGateway handles the gateway command.
func runGateway(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(logger)

	slog.Info("starting squidbot gateway",
		"version", version,
		"commit", commit,
		"base_dir", cfg.BaseDir,
	)

	srv, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

// runStatus handles the status command.
func runStatus(cmd *cobra.Command, configPath string, schema bool) error {
	out := cmd.OutOrStdout()

	if schema {
		data, err := config.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintf(out, "squidbot %s (commit: %s, built: %s)\n\n", version, commit, date)
	fmt.Fprintf(out, "Base directory: %s\n", cfg.BaseDir)
	fmt.Fprintf(out, "Log: level=%s format=%s\n\n", cfg.Log.Level, cfg.Log.Format)

	fmt.Fprintln(out, "Models (fallback order):")
	if len(cfg.LLM.Models) == 0 {
		fmt.Fprintln(out, "  none configured; run `squidbot onboard`")
	}
	for i, m := range cfg.LLM.Models {
		key := "no api key"
		if m.APIKey != "" {
			key = "api key set"
		}
		fmt.Fprintf(out, "  %d. %s/%s (%s)\n", i+1, m.Provider, m.Model, key)
	}

	fmt.Fprintln(out, "\nChannels:")
	fmt.Fprintf(out, "  terminal: %s\n", onOff(cfg.Channels.Terminal.Enabled))
	fmt.Fprintf(out, "  telegram: %s\n", onOff(cfg.Channels.Telegram.Enabled))
	fmt.Fprintf(out, "  discord:  %s\n", onOff(cfg.Channels.Discord.Enabled))
	fmt.Fprintf(out, "  slack:    %s\n", onOff(cfg.Channels.Slack.Enabled))
	fmt.Fprintf(out, "  matrix:   %s\n", onOff(cfg.Channels.Matrix.Enabled))
	fmt.Fprintf(out, "  email:    %s\n", onOff(cfg.Channels.Email.Enabled))

	if cfg.Heartbeat.Enabled {
		fmt.Fprintf(out, "\nHeartbeat: every %s to %s\n", cfg.Heartbeat.Interval, cfg.Heartbeat.Channel)
	} else {
		fmt.Fprintln(out, "\nHeartbeat: disabled")
	}
	if cfg.Observability.MetricsAddr != "" {
		fmt.Fprintf(out, "Metrics: %s\n", cfg.Observability.MetricsAddr)
	}
	if cfg.Observability.OTLPEndpoint != "" {
		fmt.Fprintf(out, "Tracing: %s\n", cfg.Observability.OTLPEndpoint)
	}
	return nil
}

// runCronList handles cron list.
func runCronList(cmd *cobra.Command, configPath string) error {
	st, err := openStore(configPath)
	if err != nil {
		return err
	}
	jobs, err := st.LoadCronJobs(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No cron jobs.")
		return nil
	}
	fmt.Fprintf(out, "%-14s %-16s %-18s %-16s %-9s %s\n", "ID", "NAME", "SCHEDULE", "CHANNEL", "ENABLED", "LAST RUN")
	for _, job := range jobs {
		last := "never"
		if job.LastRun != nil {
			last = job.LastRun.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%-14s %-16s %-18s %-16s %-9v %s\n",
			job.ID, job.Name, job.Schedule, job.Channel, job.Enabled, last)
	}
	return nil
}

// runCronAdd handles cron add.
func runCronAdd(cmd *cobra.Command, configPath, name, schedule, message, channel, timezone string, enabled bool) error {
	if _, err := cron.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if _, err := models.ParseSessionID(channel); err != nil {
		return fmt.Errorf("invalid channel %q: %w", channel, err)
	}

	st, err := openStore(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	jobs, err := st.LoadCronJobs(ctx)
	if err != nil {
		return err
	}

	job := models.CronJob{
		ID:       "job-" + uuid.NewString()[:8],
		Name:     name,
		Schedule: schedule,
		Message:  message,
		Channel:  channel,
		Enabled:  enabled,
		Timezone: timezone,
	}
	jobs = append(jobs, job)
	if err := st.SaveCronJobs(ctx, jobs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (%s)\n", job.ID, job.Schedule)
	return nil
}

// runCronRemove handles cron remove.
func runCronRemove(cmd *cobra.Command, configPath, id string) error {
	st, err := openStore(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	jobs, err := st.LoadCronJobs(ctx)
	if err != nil {
		return err
	}

	kept := jobs[:0]
	found := false
	for _, job := range jobs {
		if job.ID == id {
			found = true
			continue
		}
		kept = append(kept, job)
	}
	if !found {
		return fmt.Errorf("no job with id %q", id)
	}
	if err := st.SaveCronJobs(ctx, kept); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", id)
	return nil
}

// runCronSetEnabled handles cron set-enabled.
func runCronSetEnabled(cmd *cobra.Command, configPath, id, value string) error {
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid enabled value %q: %w", value, err)
	}

	st, err := openStore(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	jobs, err := st.LoadCronJobs(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range jobs {
		if jobs[i].ID == id {
			jobs[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no job with id %q", id)
	}
	if err := st.SaveCronJobs(ctx, jobs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s enabled=%v\n", id, enabled)
	return nil
}

// runSkillsList handles skills list.
func runSkillsList(cmd *cobra.Command, configPath string) error {
	st, err := openStore(configPath)
	if err != nil {
		return err
	}
	loader := skills.NewLoader([]string{st.SkillsDir()})
	list := loader.List()

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No skills found.")
		return nil
	}
	fmt.Fprintln(out, "Skills:")
	for _, meta := range list {
		line := "  " + meta.Name
		if meta.Always {
			line += " (always)"
		}
		fmt.Fprintln(out, line)
		if meta.Description != "" {
			desc := meta.Description
			if len(desc) > 70 {
				desc = desc[:70] + "..."
			}
			fmt.Fprintf(out, "      %s\n", desc)
		}
	}
	return nil
}

// openStore loads the config and opens the store underneath it.
func openStore(configPath string) (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.New(cfg.BaseDir, slog.Default())
	if err != nil {
		return nil, err
	}
	return st, nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// promptString prompts for a string input with an optional default.
func promptString(reader *bufio.Reader, label string, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}
	text, _ := reader.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultValue
	}
	return text
}

// promptBool prompts for a yes/no input.
func promptBool(reader *bufio.Reader, label string, defaultValue bool) bool {
	defaultLabel := "n"
	if defaultValue {
		defaultLabel = "y"
	}
	answer := promptString(reader, label+" (y/n)", defaultLabel)
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return defaultValue
	}
	return answer == "y" || answer == "yes"
}
