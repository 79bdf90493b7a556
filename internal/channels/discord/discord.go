// Package discord connects a Discord bot as a channel over the
// gateway websocket.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// maxMessageRunes is Discord's message length limit.
const maxMessageRunes = 2000

// Config holds the Discord channel configuration.
type Config struct {
	// Token is the bot token.
	Token string

	// AllowedUsers limits inbound messages to these user ids. Empty
	// allows everyone.
	AllowedUsers []string

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("discord: token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Channel is the Discord adapter. Direct messages always come through;
// guild messages only when the bot is mentioned.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[string]bool

	session *discordgo.Session
	inbound chan channels.InboundMessage
	stop    sync.Once
}

// New creates a Discord channel. The gateway connection opens on Start.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch := &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel", "channel", "discord"),
		inbound: make(chan channels.InboundMessage, 100),
	}
	if len(cfg.AllowedUsers) > 0 {
		ch.allowed = make(map[string]bool, len(cfg.AllowedUsers))
		for _, id := range cfg.AllowedUsers {
			ch.allowed[id] = true
		}
	}
	return ch, nil
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "discord" }

// Streaming implements channels.Channel.
func (c *Channel) Streaming() bool { return false }

// Start opens the gateway connection and subscribes to message events.
func (c *Channel) Start(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	dg.AddHandler(c.handleMessageCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	c.session = dg

	c.logger.Info("discord channel started", "allowed_users", len(c.cfg.AllowedUsers))
	return nil
}

// Stop implements channels.Channel.
func (c *Channel) Stop() error {
	var err error
	c.stop.Do(func() {
		if c.session != nil {
			err = c.session.Close()
		}
		close(c.inbound)
	})
	return err
}

// Messages implements channels.Channel.
func (c *Channel) Messages() <-chan channels.InboundMessage {
	return c.inbound
}

// Send delivers reply text to the Discord channel in the session id,
// splitting messages that exceed Discord's length limit.
func (c *Channel) Send(_ context.Context, session models.Session, text string, final bool) error {
	if text == "" {
		return nil
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageRunes) {
		if _, err := c.session.ChannelMessageSend(session.SenderID, chunk); err != nil {
			return fmt.Errorf("discord: send to channel %s: %w", session.SenderID, err)
		}
	}
	return nil
}

func (c *Channel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if c.allowed != nil && !c.allowed[m.Author.ID] {
		return
	}

	text := m.Content
	isDM := m.GuildID == ""
	if !isDM {
		// In guild channels only mentions are addressed to us.
		if s.State == nil || s.State.User == nil || !mentionsUser(m.Message, s.State.User.ID) {
			return
		}
		text = stripMention(text, s.State.User.ID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	msg := channels.InboundMessage{
		Session: models.Session{Channel: "discord", SenderID: m.ChannelID},
		Text:    text,
	}
	select {
	case c.inbound <- msg:
	default:
		c.logger.Warn("inbound queue full, dropping message", "channel_id", m.ChannelID)
	}
}

func mentionsUser(m *discordgo.Message, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func stripMention(text, userID string) string {
	text = strings.ReplaceAll(text, "<@"+userID+">", "")
	return strings.ReplaceAll(text, "<@!"+userID+">", "")
}
