// Package email connects a mailbox as a channel: inbound mail is
// polled over IMAP, replies go out over SMTP with subject threading.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

// Config holds the email channel configuration.
type Config struct {
	// IMAPAddr is the IMAP server address with port, e.g.
	// imap.example.com:993. TLS is always used.
	IMAPAddr string

	// SMTPAddr is the SMTP submission address with port, e.g.
	// smtp.example.com:587.
	SMTPAddr string

	// Username and Password authenticate both connections.
	Username string
	Password string

	// From is the sender address for replies. Defaults to Username.
	From string

	// Mailbox is the folder polled for new mail. Defaults to INBOX.
	Mailbox string

	// PollInterval is the delay between mailbox checks. Defaults to
	// one minute.
	PollInterval time.Duration

	// AllowedSenders limits inbound mail to these addresses. Empty
	// allows everyone.
	AllowedSenders []string

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.IMAPAddr == "" {
		return fmt.Errorf("email: imap_addr is required")
	}
	if c.SMTPAddr == "" {
		return fmt.Errorf("email: smtp_addr is required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("email: username and password are required")
	}
	if c.From == "" {
		c.From = c.Username
	}
	if c.Mailbox == "" {
		c.Mailbox = "INBOX"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// thread remembers the last inbound message per correspondent so
// replies keep the subject line and In-Reply-To header intact.
type thread struct {
	messageID string
	subject   string
}

// Channel is the email adapter.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	allowed map[string]bool

	inbound chan channels.InboundMessage
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	threads map[string]thread
}

// New creates an email channel. No connection is made until Start.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch := &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel", "channel", "email"),
		inbound: make(chan channels.InboundMessage, 100),
		threads: make(map[string]thread),
	}
	if len(cfg.AllowedSenders) > 0 {
		ch.allowed = make(map[string]bool, len(cfg.AllowedSenders))
		for _, addr := range cfg.AllowedSenders {
			ch.allowed[strings.ToLower(addr)] = true
		}
	}
	return ch, nil
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "email" }

// Streaming implements channels.Channel.
func (c *Channel) Streaming() bool { return false }

// Start launches the IMAP polling loop. Each poll opens a fresh
// connection; mail servers drop idle sessions anyway and reconnecting
// keeps the loop stateless.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.inbound)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		c.pollOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollOnce(ctx)
			}
		}
	}()

	c.logger.Info("email channel started", "imap", c.cfg.IMAPAddr, "mailbox", c.cfg.Mailbox, "poll_interval", c.cfg.PollInterval)
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

// Send replies to the correspondent in the session id over SMTP.
func (c *Channel) Send(_ context.Context, session models.Session, text string, final bool) error {
	if text == "" {
		return nil
	}
	recipient := session.SenderID

	c.mu.Lock()
	th := c.threads[strings.ToLower(recipient)]
	c.mu.Unlock()

	msg := buildReply(c.cfg.From, recipient, th, text)
	host := c.cfg.SMTPAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)
	if err := smtp.SendMail(c.cfg.SMTPAddr, auth, c.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("email: send to %s: %w", recipient, err)
	}
	return nil
}

// pollOnce fetches unseen mail, emits inbound messages, and marks the
// batch as seen. Failures log and wait for the next tick.
func (c *Channel) pollOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	client, err := imapclient.DialTLS(c.cfg.IMAPAddr, nil)
	if err != nil {
		c.logger.Warn("imap dial failed", "error", err)
		return
	}
	defer client.Close()

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		c.logger.Warn("imap login failed", "error", err)
		return
	}
	defer client.Logout()

	if _, err := client.Select(c.cfg.Mailbox, nil).Wait(); err != nil {
		c.logger.Warn("imap select failed", "mailbox", c.cfg.Mailbox, "error", err)
		return
	}

	search, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		c.logger.Warn("imap search failed", "error", err)
		return
	}
	uids := search.AllUIDs()
	if len(uids) == 0 {
		return
	}

	section := &imap.FetchItemBodySection{}
	msgs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		c.logger.Warn("imap fetch failed", "error", err)
		return
	}

	for _, msg := range msgs {
		c.acceptMail(msg, section)
	}

	if err := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagSeen},
		Silent: true,
	}, nil).Close(); err != nil {
		c.logger.Warn("imap store failed", "error", err)
	}
}

func (c *Channel) acceptMail(msg *imapclient.FetchMessageBuffer, section *imap.FetchItemBodySection) {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return
	}
	sender := strings.ToLower(msg.Envelope.From[0].Addr())
	if sender == "" || strings.EqualFold(sender, c.cfg.From) {
		return
	}
	if c.allowed != nil && !c.allowed[sender] {
		c.logger.Debug("dropping mail from disallowed sender", "from", sender)
		return
	}

	body := extractPlainText(msg.FindBodySection(section))
	text := strings.TrimSpace(body)
	if text == "" {
		text = strings.TrimSpace(msg.Envelope.Subject)
	}
	if text == "" {
		return
	}

	c.mu.Lock()
	c.threads[sender] = thread{
		messageID: msg.Envelope.MessageID,
		subject:   msg.Envelope.Subject,
	}
	c.mu.Unlock()

	inbound := channels.InboundMessage{
		Session: models.Session{Channel: "email", SenderID: sender},
		Text:    text,
	}
	select {
	case c.inbound <- inbound:
	default:
		c.logger.Warn("inbound queue full, dropping mail", "from", sender)
	}
}

// extractPlainText pulls the first text/plain part out of a raw RFC
// 5322 message. When MIME parsing fails the raw bytes are returned so
// plain unstructured mail still gets through.
func extractPlainText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := header.ContentType()
		if err != nil || ct != "text/plain" {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		return string(body)
	}
	return ""
}

// replySubject threads the reply under the original subject.
func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// buildReply assembles the outgoing RFC 5322 reply.
func buildReply(from, to string, th thread, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", replySubject(th.subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if th.messageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", th.messageID)
		fmt.Fprintf(&b, "References: <%s>\r\n", th.messageID)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
