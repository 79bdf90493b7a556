package main

import (
	"github.com/spf13/cobra"

	"github.com/squidbot/squidbot/internal/onboard"
)

// buildOnboardCmd creates the "onboard" command for guided setup.
func buildOnboardCmd() *cobra.Command {
	var opts onboard.Options
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create the config file and base directory with guided prompts",
		Long: `Walk through first-time setup: pick a model provider, enable
channels, and write the config file. Existing files are left alone, so
running it again is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd, &opts, nonInteractive)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to write the config file")
	cmd.Flags().StringVar(&opts.BaseDir, "base-dir", "", "Base directory for state (default ~/.squidbot)")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Model provider (anthropic, openai, openrouter, ollama, gemini, bedrock)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Model id (defaults per provider)")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "Provider API key")
	cmd.Flags().BoolVar(&opts.EnableTelegram, "enable-telegram", false, "Enable the Telegram channel")
	cmd.Flags().StringVar(&opts.TelegramToken, "telegram-token", "", "Telegram bot token")
	cmd.Flags().BoolVar(&opts.EnableDiscord, "enable-discord", false, "Enable the Discord channel")
	cmd.Flags().StringVar(&opts.DiscordToken, "discord-token", "", "Discord bot token")
	cmd.Flags().BoolVar(&opts.EnableSlack, "enable-slack", false, "Enable the Slack channel")
	cmd.Flags().StringVar(&opts.SlackBotToken, "slack-bot-token", "", "Slack bot token")
	cmd.Flags().StringVar(&opts.SlackAppToken, "slack-app-token", "", "Slack app token")
	cmd.Flags().BoolVar(&opts.EnableHeartbeat, "enable-heartbeat", false, "Enable the periodic heartbeat")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Disable prompts and use flags only")

	return cmd
}

// buildAgentCmd creates the "agent" command for terminal sessions.
func buildAgentCmd() *cobra.Command {
	var (
		configPath string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Talk to the assistant on the terminal",
		Long: `Run an interactive session on the terminal channel. With -m the
message is sent once and the command exits after the reply.`,
		Example: `  squidbot agent
  squidbot agent -m "summarize my notes from yesterday"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), configPath, message)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")

	return cmd
}

// buildGatewayCmd creates the "gateway" command that runs everything.
func buildGatewayCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start every enabled channel, the scheduler, and the heartbeat",
		Long: `Start the gateway: all enabled channel adapters, the cron
scheduler, and the heartbeat, sharing one agent and one memory.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildStatusCmd creates the "status" command.
func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		schema     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, schema)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	cmd.Flags().BoolVar(&schema, "schema", false, "Print the config JSON schema and exit")

	return cmd
}

// buildCronCmd creates the "cron" command group.
func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(
		buildCronListCmd(),
		buildCronAddCmd(),
		buildCronRemoveCmd(),
		buildCronSetEnabledCmd(),
	)
	return cmd
}

func buildCronListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	return cmd
}

func buildCronAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		schedule   string
		message    string
		channel    string
		timezone   string
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Example: `  squidbot cron add --schedule "0 9 * * 1-5" --message "Plan my day." --name standup
  squidbot cron add --schedule "@hourly" --message "Check the build." --channel telegram:12345`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronAdd(cmd, configPath, name, schedule, message, channel, timezone, !disabled)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable job name")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression (five fields or @every/@hourly style)")
	cmd.Flags().StringVar(&message, "message", "", "Message the agent receives when the job fires")
	cmd.Flags().StringVar(&channel, "channel", "cli:local", "Delivery session as channel:sender")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for the schedule (default local)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the job disabled")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func buildCronRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronRemove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	return cmd
}

func buildCronSetEnabledCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "set-enabled <id> <true|false>",
		Short: "Enable or disable a scheduled job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronSetEnabled(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	return cmd
}

// buildSkillsCmd creates the "skills" command group.
func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills (SKILL.md-based)",
	}
	cmd.AddCommand(buildSkillsListCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	return cmd
}
