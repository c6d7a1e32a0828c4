// Package integrations delivers workflow notifications over chat and email.
package integrations

import (
	"context"

	"github.com/charmbracelet/log"
)

// Recipient identifies who a notification is for and how to reach them.
type Recipient struct {
	UserID         int64
	Username       string
	Email          string
	TelegramChatID string
}

// Message is a notification. Body is HTML-safe plain text with newlines.
type Message struct {
	Subject string
	Body    string
}

// Transport delivers a message to a recipient over one channel.
type Transport interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Accepts reports whether the recipient is reachable on this channel.
	Accepts(r Recipient) bool
	// Notify delivers the message. Failures are reported, never retried.
	Notify(ctx context.Context, r Recipient, m Message) error
}

// LogTransport writes notifications to a logger. It accepts every recipient
// and is used when no real channel is configured.
type LogTransport struct {
	Logger *log.Logger
}

func (LogTransport) Name() string { return "log" }

func (LogTransport) Accepts(Recipient) bool { return true }

func (t LogTransport) Notify(_ context.Context, r Recipient, m Message) error {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Info("notification", "to", r.Username, "subject", m.Subject)
	return nil
}
