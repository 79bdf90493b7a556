package models

import (
	"fmt"
	"strings"
)

// Session identifies one conversation partner on one channel. History is a
// single global stream; the session id is carried through for labelling,
// cron dispatch targeting, and per-run extra-tool binding.
type Session struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
}

// ID returns the canonical "{channel}:{sender_id}" session id.
func (s Session) ID() string {
	return s.Channel + ":" + s.SenderID
}

// ParseSessionID splits a "{channel}:{sender_id}" id at the first colon.
// Sender ids may themselves contain colons (matrix user ids do).
func ParseSessionID(id string) (Session, error) {
	channel, sender, ok := strings.Cut(id, ":")
	if !ok || channel == "" || sender == "" {
		return Session{}, fmt.Errorf("invalid session id %q: want channel:sender", id)
	}
	return Session{Channel: channel, SenderID: sender}, nil
}
