// Package slack connects a Slack app as a channel over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// maxMessageRunes keeps messages under Slack's recommended limit.
const maxMessageRunes = 4000

// Config holds the Slack channel configuration.
type Config struct {
	// BotToken is the xoxb- token for Web API calls.
	BotToken string

	// AppToken is the xapp- token for Socket Mode.
	AppToken string

	// AllowedUsers limits inbound messages to these user ids. Empty
	// allows everyone.
	AllowedUsers []string

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("slack: bot_token is required")
	}
	if c.AppToken == "" {
		return fmt.Errorf("slack: app_token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Channel is the Slack adapter. Direct messages and app mentions
// become inbound messages keyed by the Slack conversation id.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[string]bool

	client    *slack.Client
	socket    *socketmode.Client
	botUserID string

	inbound chan channels.InboundMessage
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Slack channel. The Socket Mode connection opens on
// Start.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch := &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel", "channel", "slack"),
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
func (c *Channel) Name() string { return "slack" }

// Streaming implements channels.Channel.
func (c *Channel) Streaming() bool { return false }

// Start authenticates, then runs the Socket Mode event loop.
func (c *Channel) Start(ctx context.Context) error {
	c.client = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.socket = socketmode.New(c.client)

	auth, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.inbound)
		c.handleEvents(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("socket mode loop exited", "error", err)
		}
	}()

	c.logger.Info("slack channel started", "bot_user", c.botUserID)
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

// Send delivers reply text to the Slack conversation in the session
// id.
func (c *Channel) Send(ctx context.Context, session models.Session, text string, final bool) error {
	if text == "" {
		return nil
	}
	for _, chunk := range channels.SplitMessage(text, maxMessageRunes) {
		if _, _, err := c.client.PostMessageContext(ctx, session.SenderID, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("slack: send to %s: %w", session.SenderID, err)
		}
	}
	return nil
}

func (c *Channel) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				c.socket.Ack(*evt.Request)
			}
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			switch ev := apiEvent.InnerEvent.Data.(type) {
			case *slackevents.AppMentionEvent:
				c.accept(ev.User, ev.Channel, ev.Text)
			case *slackevents.MessageEvent:
				if ev.BotID != "" || ev.SubType != "" {
					continue
				}
				// Only direct messages reach the assistant unprompted.
				if !strings.HasPrefix(ev.Channel, "D") {
					continue
				}
				c.accept(ev.User, ev.Channel, ev.Text)
			}
		}
	}
}

func (c *Channel) accept(userID, conversation, text string) {
	if c.allowed != nil && !c.allowed[userID] {
		return
	}
	text = strings.TrimSpace(stripMentions(text))
	if text == "" {
		return
	}
	msg := channels.InboundMessage{
		Session: models.Session{Channel: "slack", SenderID: conversation},
		Text:    text,
	}
	select {
	case c.inbound <- msg:
	default:
		c.logger.Warn("inbound queue full, dropping message", "conversation", conversation)
	}
}

// stripMentions removes <@USERID> tokens from message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			return text
		}
		text = text[:start] + text[start+end+1:]
	}
}
