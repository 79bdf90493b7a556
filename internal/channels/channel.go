// Package channels defines the contract between user-facing transports
// and the rest of the runtime. Each adapter connects one platform
// (terminal, Telegram, Discord, Slack, Matrix, email) and converts its
// traffic to inbound messages and outbound sends.
package channels

import (
	"context"
	"sort"
	"sync"

	"github.com/squidbot/squidbot/pkg/models"
)

// InboundMessage is one user message arriving from a channel.
type InboundMessage struct {
	Session models.Session
	Text    string
}

// Channel is a connected messaging transport. Implementations must be
// safe for concurrent use: Send may be called from the inbound
// consumer, the cron scheduler, and the heartbeat at the same time.
type Channel interface {
	// Name is the channel identifier used in session ids and config.
	Name() string

	// Streaming reports whether the channel wants the reply delivered
	// chunk by chunk (final=false per chunk, one final=true flush) or
	// as a single fully-assembled send.
	Streaming() bool

	// Start connects the transport and begins producing messages.
	Start(ctx context.Context) error

	// Stop disconnects and releases resources. The inbound channel is
	// closed once no more messages will be produced.
	Stop() error

	// Messages returns the inbound message stream.
	Messages() <-chan InboundMessage

	// Send delivers reply text to the session's conversation. final
	// marks end of response.
	Send(ctx context.Context, session models.Session, text string, final bool) error
}

// Registry holds the enabled channels keyed by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel, replacing any previous one with the same name.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Get returns the channel with the given name.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// All returns the registered channels sorted by name.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StartAll starts every channel and stops the ones already started if
// one fails, so a partial startup never leaks connections.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]Channel, 0)
	for _, ch := range r.All() {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return err
		}
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every channel and returns the last error seen.
func (r *Registry) StopAll() error {
	var lastErr error
	for _, ch := range r.All() {
		if err := ch.Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
