package memory

import (
	"fmt"

	"github.com/squidbot/squidbot/pkg/models"
)

// Alias maps a sender address, optionally narrowed to one channel, to a
// human label shown to the model in front of that sender's messages.
type Alias struct {
	Address string
	Channel string
	Label   string
}

type aliasKey struct {
	address string
	channel string
}

// buildAliasMaps splits aliases into the scoped (address, channel) and
// unscoped (address only) lookup tables consulted per message.
func buildAliasMaps(aliases []Alias) (map[aliasKey]string, map[string]string) {
	scoped := make(map[aliasKey]string)
	unscoped := make(map[string]string)
	for _, a := range aliases {
		if a.Address == "" || a.Label == "" {
			continue
		}
		if a.Channel != "" {
			scoped[aliasKey{address: a.Address, channel: a.Channel}] = a.Label
		} else {
			unscoped[a.Address] = a.Label
		}
	}
	return scoped, unscoped
}

// resolveLabel finds the label for a session's sender. A channel-scoped
// alias wins over an unscoped one; no match means no labelling.
func (m *Manager) resolveLabel(session models.Session) string {
	if label, ok := m.scoped[aliasKey{address: session.SenderID, channel: session.Channel}]; ok {
		return label
	}
	if label, ok := m.unscoped[session.SenderID]; ok {
		return label
	}
	return ""
}

// LabelUser prefixes user content with "[channel / label] " when the
// sender has a configured alias, so a shared history stream keeps each
// message's origin readable.
func (m *Manager) LabelUser(session models.Session, content string) string {
	label := m.resolveLabel(session)
	if label == "" {
		return content
	}
	return fmt.Sprintf("[%s / %s] %s", session.Channel, label, content)
}
