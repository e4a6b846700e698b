package sms

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// NoopSender logs text messages instead of sending them.
type NoopSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send validates the number, logs and records msg.
func (n *NoopSender) Send(_ context.Context, msg Message) error {
	to, err := NormalizeNumber(msg.To)
	if err != nil {
		return err
	}
	msg.To = to
	n.logger.Info("text message (noop, not sent)",
		zap.String("to", msg.To),
		zap.String("channel", channelName(msg.Channel)),
	)

	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	return nil
}

// Sent returns the messages passed to Send so far.
func (n *NoopSender) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}
