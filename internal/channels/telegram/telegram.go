// Package telegram connects a Telegram bot as a channel using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// maxMessageRunes is Telegram's message length limit.
const maxMessageRunes = 4096

// Config holds the Telegram channel configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// AllowedChats limits inbound messages to these chat ids. Empty
	// allows every chat, which is only sensible for single-user bots.
	AllowedChats []int64

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Channel is the Telegram adapter.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[int64]bool

	bot     *bot.Bot
	inbound chan channels.InboundMessage
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Telegram channel. The bot connects on Start, not here.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch := &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel", "channel", "telegram"),
		inbound: make(chan channels.InboundMessage, 100),
	}
	if len(cfg.AllowedChats) > 0 {
		ch.allowed = make(map[int64]bool, len(cfg.AllowedChats))
		for _, id := range cfg.AllowedChats {
			ch.allowed[id] = true
		}
	}
	return ch, nil
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "telegram" }

// Streaming implements channels.Channel. Telegram edits are rate
// limited too aggressively for chunk streaming, so replies arrive
// fully assembled.
func (c *Channel) Streaming() bool { return false }

// Start authenticates the bot and begins long polling.
func (c *Channel) Start(ctx context.Context) error {
	b, err := bot.New(c.cfg.Token, bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	c.bot = b

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.inbound)
		// Blocks until the context is cancelled; the library retries
		// polling failures internally.
		b.Start(ctx)
	}()

	c.logger.Info("telegram channel started", "allowed_chats", len(c.cfg.AllowedChats))
	return nil
}

// Stop implements channels.Channel.
func (c *Channel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// Messages implements channels.Channel.
func (c *Channel) Messages() <-chan channels.InboundMessage {
	return c.inbound
}

// Send delivers reply text to the chat in the session id, splitting
// messages that exceed Telegram's length limit.
func (c *Channel) Send(ctx context.Context, session models.Session, text string, final bool) error {
	if text == "" {
		return nil
	}
	chatID, err := strconv.ParseInt(session.SenderID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: session %q has no chat id: %w", session.ID(), err)
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageRunes) {
		if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			return fmt.Errorf("telegram: send to chat %d: %w", chatID, err)
		}
	}
	return nil
}

func (c *Channel) handleUpdate(_ context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	if c.allowed != nil && !c.allowed[chatID] {
		c.logger.Debug("dropping message from disallowed chat", "chat_id", chatID)
		return
	}

	msg := channels.InboundMessage{
		Session: models.Session{Channel: "telegram", SenderID: strconv.FormatInt(chatID, 10)},
		Text:    update.Message.Text,
	}
	select {
	case c.inbound <- msg:
	default:
		c.logger.Warn("inbound queue full, dropping message", "chat_id", chatID)
	}
}
