// Package matrix connects a Matrix account as a channel using a plain
// access token and the client-server sync API.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/squidbot/squidbot/internal/backoff"
	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// Config holds the Matrix channel configuration.
type Config struct {
	// Homeserver is the base URL, e.g. https://matrix.org.
	Homeserver string

	// UserID is the full Matrix user id, e.g. @bot:matrix.org.
	UserID string

	// AccessToken authenticates the client. Device login flows are not
	// handled here; create a token out of band.
	AccessToken string

	// AllowedRooms limits inbound messages to these room ids. Empty
	// allows every joined room.
	AllowedRooms []string

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("matrix: homeserver is required")
	}
	if !strings.HasPrefix(c.UserID, "@") {
		return fmt.Errorf("matrix: user_id %q must be a full Matrix id", c.UserID)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("matrix: access_token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Channel is the Matrix adapter.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[string]bool

	client  *mautrix.Client
	inbound chan channels.InboundMessage
	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Matrix channel.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	ch := &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel", "channel", "matrix"),
		client:  client,
		inbound: make(chan channels.InboundMessage, 100),
	}
	if len(cfg.AllowedRooms) > 0 {
		ch.allowed = make(map[string]bool, len(cfg.AllowedRooms))
		for _, room := range cfg.AllowedRooms {
			ch.allowed[room] = true
		}
	}
	return ch, nil
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "matrix" }

// Streaming implements channels.Channel.
func (c *Channel) Streaming() bool { return false }

// Start subscribes to room messages and runs the sync loop.
func (c *Channel) Start(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("matrix: unexpected syncer type %T", c.client.Syncer)
	}
	c.started = time.Now()
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.inbound)
		c.syncLoop(ctx)
	}()

	c.logger.Info("matrix channel started", "homeserver", c.cfg.Homeserver, "user_id", c.cfg.UserID)
	return nil
}

// Stop implements channels.Channel.
func (c *Channel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.client.StopSync()
	c.wg.Wait()
	return nil
}

// Messages implements channels.Channel.
func (c *Channel) Messages() <-chan channels.InboundMessage {
	return c.inbound
}

// Send delivers reply text to the room in the session id.
func (c *Channel) Send(ctx context.Context, session models.Session, text string, final bool) error {
	if text == "" {
		return nil
	}
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(session.SenderID), event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix: send to room %s: %w", session.SenderID, err)
	}
	return nil
}

func (c *Channel) syncLoop(ctx context.Context) {
	policy := backoff.Connect()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.client.SyncWithContext(ctx)
		if err == nil {
			attempt = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}
		attempt++
		delay := policy.Delay(attempt)
		c.logger.Warn("sync failed, retrying", "error", err, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) handleMessage(_ context.Context, evt *event.Event) {
	if string(evt.Sender) == c.cfg.UserID {
		return
	}
	// The first sync replays room history; only react to live events.
	if time.UnixMilli(evt.Timestamp).Before(c.started) {
		return
	}
	if c.allowed != nil && !c.allowed[string(evt.RoomID)] {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	text := strings.TrimSpace(content.Body)
	if text == "" {
		return
	}

	msg := channels.InboundMessage{
		Session: models.Session{Channel: "matrix", SenderID: string(evt.RoomID)},
		Text:    text,
	}
	select {
	case c.inbound <- msg:
	default:
		c.logger.Warn("inbound queue full, dropping message", "room_id", evt.RoomID)
	}
}
