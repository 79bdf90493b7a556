// Package onboard turns setup answers into a written config file and a
// seeded base directory. Running it again with the same answers leaves
// the same state on disk.
package onboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options captures onboarding answers.
type Options struct {
	ConfigPath string
	BaseDir    string

	Provider string
	Model    string
	APIKey   string

	EnableTelegram bool
	TelegramToken  string
	EnableDiscord  bool
	DiscordToken   string
	EnableSlack    bool
	SlackBotToken  string
	SlackAppToken  string

	EnableHeartbeat bool
}

// BuildConfig builds the raw config map from answers. Only the keys the
// wizard asks about are emitted; everything else stays on its default.
func BuildConfig(opts Options) map[string]any {
	provider := normalizeProvider(opts.Provider)
	if provider == "" {
		provider = "anthropic"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel(provider)
	}

	cfg := map[string]any{
		"llm": map[string]any{
			"models": []any{
				map[string]any{
					"provider": provider,
					"model":    model,
					"api_key":  opts.APIKey,
				},
			},
		},
		"channels": map[string]any{
			"terminal": map[string]any{"enabled": true},
			"telegram": map[string]any{
				"enabled":   opts.EnableTelegram,
				"bot_token": opts.TelegramToken,
			},
			"discord": map[string]any{
				"enabled":   opts.EnableDiscord,
				"bot_token": opts.DiscordToken,
			},
			"slack": map[string]any{
				"enabled":   opts.EnableSlack,
				"bot_token": opts.SlackBotToken,
				"app_token": opts.SlackAppToken,
			},
		},
		"heartbeat": map[string]any{"enabled": opts.EnableHeartbeat},
	}
	if strings.TrimSpace(opts.BaseDir) != "" {
		cfg["base_dir"] = opts.BaseDir
	}
	return cfg
}

// DefaultModel returns the model id the wizard suggests for a provider.
func DefaultModel(provider string) string {
	switch normalizeProvider(provider) {
	case "openai":
		return "gpt-4o"
	case "openrouter":
		return "anthropic/claude-sonnet-4"
	case "ollama":
		return "llama3.3"
	case "gemini":
		return "gemini-2.0-flash"
	case "bedrock":
		return "anthropic.claude-sonnet-4-20250514-v1:0"
	default:
		return "claude-sonnet-4-20250514"
	}
}

// WriteConfig writes the config map to disk, creating parent
// directories as needed.
func WriteConfig(path string, raw map[string]any) error {
	if raw == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeProvider(provider string) string {
	return strings.TrimSpace(strings.ToLower(provider))
}
