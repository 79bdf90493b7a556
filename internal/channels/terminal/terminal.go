// Package terminal connects the interactive console as a streaming
// channel. Every line read from input becomes one inbound message for
// the fixed cli:local session; reply chunks are written straight to
// output as they arrive.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/squidbot/squidbot/internal/channels"
	"github.com/squidbot/squidbot/pkg/models"
)

const prompt = "> "

// Config holds the terminal channel configuration. Input and Output
// default to stdin and stdout.
type Config struct {
	Input  io.Reader
	Output io.Writer
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.Input == nil {
		c.Input = os.Stdin
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Channel is the terminal adapter.
type Channel struct {
	cfg         Config
	logger      *slog.Logger
	interactive bool

	inbound chan channels.InboundMessage
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup

	outMu sync.Mutex
}

// New creates a terminal channel. The prompt is only printed when
// input is a real TTY, so piped input and tests stay clean.
func New(cfg Config) *Channel {
	cfg.validate()
	interactive := false
	if f, ok := cfg.Input.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Channel{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "channel", "channel", "cli"),
		interactive: interactive,
		inbound:     make(chan channels.InboundMessage, 100),
		stopCh:      make(chan struct{}),
	}
}

// Name implements channels.Channel.
func (c *Channel) Name() string { return "cli" }

// Streaming implements channels.Channel. The terminal always streams.
func (c *Channel) Streaming() bool { return true }

// Session returns the fixed session every terminal message belongs to.
func (c *Channel) Session() models.Session {
	return models.Session{Channel: "cli", SenderID: "local"}
}

// Start begins reading lines from input. The reader goroutine itself
// may outlive Stop while blocked on a TTY read; the forwarding
// goroutine guarantees the inbound channel still closes promptly.
func (c *Channel) Start(ctx context.Context) error {
	lines := make(chan string)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.inbound)
		c.printPrompt()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if line == "" {
					c.printPrompt()
					continue
				}
				select {
				case c.inbound <- channels.InboundMessage{Session: c.Session(), Text: line}:
				case <-ctx.Done():
					return
				case <-c.stopCh:
					return
				}
			}
		}
	}()

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.cfg.Input)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.stopCh:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("terminal input closed", "error", err)
		}
	}()

	c.logger.Info("terminal channel started", "interactive", c.interactive)
	return nil
}

// Stop implements channels.Channel.
func (c *Channel) Stop() error {
	c.stop.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}

// Messages implements channels.Channel.
func (c *Channel) Messages() <-chan channels.InboundMessage {
	return c.inbound
}

// Send writes reply text to the terminal. Chunks print as they come;
// the final frame ends the line and restores the prompt.
func (c *Channel) Send(_ context.Context, _ models.Session, text string, final bool) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if text != "" {
		if _, err := io.WriteString(c.cfg.Output, text); err != nil {
			return fmt.Errorf("write terminal output: %w", err)
		}
	}
	if final {
		if _, err := io.WriteString(c.cfg.Output, "\n"); err != nil {
			return fmt.Errorf("write terminal output: %w", err)
		}
		if c.interactive {
			_, _ = io.WriteString(c.cfg.Output, prompt)
		}
	}
	return nil
}

func (c *Channel) printPrompt() {
	if !c.interactive {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.cfg.Output, prompt)
}
