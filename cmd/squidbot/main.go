// Package main is the squidbot CLI: a single-user AI assistant
// reachable from the terminal, Telegram, Discord, Slack, Matrix, and
// email, with a cron scheduler and a proactive heartbeat.
//
// # Basic Usage
//
// First-time setup:
//
//	squidbot onboard
//
// Talk to it on the terminal:
//
//	squidbot agent
//	squidbot agent -m "what is on my plate today?"
//
// Run the gateway with every enabled channel:
//
//	squidbot gateway
//
// Configuration lives at ~/.squidbot/config.yaml; set SQUIDBOT_CONFIG
// to point somewhere else.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "squidbot",
		Short: "Personal AI assistant",
		Long: `squidbot is a single-user AI assistant: one agent, one memory,
reachable from the terminal and from messaging channels, with
scheduled jobs and a heartbeat that speaks up only when something
needs attention.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildOnboardCmd(),
		buildAgentCmd(),
		buildGatewayCmd(),
		buildStatusCmd(),
		buildCronCmd(),
		buildSkillsCmd(),
	)
	return rootCmd
}
