// Package alert handles sending notifications about events an operator
// should see: breaker trips, full closes and regime changes.
package alert

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(message string) error {
	return nil
}

// Close does nothing and returns nil.
func (n *NoOpNotifier) Close() error {
	return nil
}

// LogNotifier writes alerts to a structured logger at warn level.
type LogNotifier struct {
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
	sent   int
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs message. It fails once the notifier is closed.
func (n *LogNotifier) Send(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("notifier closed, dropping alert: %s", message)
	}
	n.sent++
	n.logger.Warn("ALERT", zap.String("message", message))
	return nil
}

// Sent returns the number of alerts delivered.
func (n *LogNotifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

// Close stops further alerts.
func (n *LogNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}
