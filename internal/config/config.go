// Package config loads the squidbot configuration file and applies
// defaults. Files are YAML by default, JSON/JSON5 by extension, may
// reference environment variables, and may pull in other files through
// $include directives.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfig is the environment variable naming an alternate config file.
const EnvConfig = "SQUIDBOT_CONFIG"

// Config is the root configuration structure for squidbot.
type Config struct {
	BaseDir       string              `yaml:"base_dir"`
	SystemPrompt  string              `yaml:"system_prompt"`
	Log           LogConfig           `yaml:"log"`
	LLM           LLMConfig           `yaml:"llm"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Aliases       []AliasConfig       `yaml:"aliases"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Heartbeat     HeartbeatConfig     `yaml:"heartbeat"`
	Tools         ToolsConfig         `yaml:"tools"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig lists the model fallback chain in priority order.
type LLMConfig struct {
	Models    []ModelConfig `yaml:"models"`
	MaxTokens int           `yaml:"max_tokens"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Region   string `yaml:"region"`
}

type ConsolidationConfig struct {
	Threshold       int     `yaml:"threshold"`
	KeepRecentRatio float64 `yaml:"keep_recent_ratio"`
}

// AliasConfig labels messages from a known address. An alias with a
// channel applies only there; without one it applies everywhere.
type AliasConfig struct {
	Address string `yaml:"address"`
	Channel string `yaml:"channel"`
	Label   string `yaml:"label"`
}

type ChannelsConfig struct {
	Terminal TerminalConfig `yaml:"terminal"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Email    EmailConfig    `yaml:"email"`
}

type TerminalConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BotToken     string  `yaml:"bot_token"`
	AllowedChats []int64 `yaml:"allowed_chats"`
}

type DiscordConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BotToken     string   `yaml:"bot_token"`
	AllowedUsers []string `yaml:"allowed_users"`
}

type SlackConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BotToken     string   `yaml:"bot_token"`
	AppToken     string   `yaml:"app_token"`
	AllowedUsers []string `yaml:"allowed_users"`
}

type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

type EmailConfig struct {
	Enabled        bool          `yaml:"enabled"`
	IMAPAddr       string        `yaml:"imap_addr"`
	SMTPAddr       string        `yaml:"smtp_addr"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	From           string        `yaml:"from"`
	Mailbox        string        `yaml:"mailbox"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AllowedSenders []string      `yaml:"allowed_senders"`
}

// HeartbeatConfig drives the periodic self-prompt. The channel is in
// prefix form (e.g. cli:local) and receives anything the model wants
// to surface; pure HEARTBEAT_OK acknowledgements are dropped.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Channel  string        `yaml:"channel"`
	Prompt   string        `yaml:"prompt"`
}

type ToolsConfig struct {
	Shell     ShellConfig     `yaml:"shell"`
	WebSearch WebSearchConfig `yaml:"web_search"`
}

type ShellConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type WebSearchConfig struct {
	APIKey string `yaml:"api_key"`
}

type ObservabilityConfig struct {
	MetricsAddr  string `yaml:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// DefaultBaseDir returns ~/.squidbot, falling back to a relative
// .squidbot when the home directory cannot be resolved.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".squidbot"
	}
	return filepath.Join(home, ".squidbot")
}

// DefaultPath returns the config file the loader uses when no explicit
// path is given: $SQUIDBOT_CONFIG if set, else <base>/config.yaml.
func DefaultPath() string {
	if env := strings.TrimSpace(os.Getenv(EnvConfig)); env != "" {
		return env
	}
	return filepath.Join(DefaultBaseDir(), "config.yaml")
}

// Load reads the configuration from path, or from DefaultPath when
// path is empty. A missing default file yields the built-in defaults;
// a missing explicit file is an error.
func Load(path string) (*Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		cfg.BaseDir = DefaultBaseDir()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Consolidation.Threshold == 0 {
		cfg.Consolidation.Threshold = 50
	}
	if cfg.Consolidation.KeepRecentRatio == 0 {
		cfg.Consolidation.KeepRecentRatio = 0.3
	}
	if cfg.Channels.Email.Mailbox == "" {
		cfg.Channels.Email.Mailbox = "INBOX"
	}
	if cfg.Channels.Email.PollInterval == 0 {
		cfg.Channels.Email.PollInterval = time.Minute
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 30 * time.Minute
	}
	if cfg.Heartbeat.Channel == "" {
		cfg.Heartbeat.Channel = "cli:local"
	}
	if cfg.Heartbeat.Prompt == "" {
		cfg.Heartbeat.Prompt = "Heartbeat check-in. Review anything pending and report only new or changed items. Reply HEARTBEAT_OK if nothing needs attention."
	}
	if cfg.Tools.Shell.Timeout == 0 {
		cfg.Tools.Shell.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = "You are squidbot, a personal assistant. Be concise and direct. Use your tools when they help, and say so when you are unsure."
	}
}

func (cfg *Config) validate() error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format must be json or text, got %q", cfg.Log.Format)
	}
	for i, m := range cfg.LLM.Models {
		switch m.Provider {
		case "anthropic", "openai", "openrouter", "ollama", "gemini", "bedrock":
		default:
			return fmt.Errorf("config: llm.models[%d].provider %q is not supported", i, m.Provider)
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("config: llm.models[%d].model is required", i)
		}
	}
	if r := cfg.Consolidation.KeepRecentRatio; r < 0 || r >= 1 {
		return fmt.Errorf("config: consolidation.keep_recent_ratio must be in [0, 1), got %v", r)
	}
	if cfg.Heartbeat.Enabled && !strings.Contains(cfg.Heartbeat.Channel, ":") {
		return fmt.Errorf("config: heartbeat.channel must be in channel:sender form, got %q", cfg.Heartbeat.Channel)
	}
	return nil
}
