// Package notification fans status changes out to staff roles. Delivery is
// fire-and-forget: failures are logged and never propagated to the caller.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sender delivers a message to a single recipient address.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

// SenderFunc is a function adapter for Sender.
type SenderFunc func(ctx context.Context, recipient, message string) error

func (f SenderFunc) Send(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}

// Notifier routes messages to every recipient registered under a role.
type Notifier struct {
	sender Sender
	logger zerolog.Logger

	mu         sync.RWMutex
	recipients map[string][]string // role -> addresses
}

func NewNotifier(sender Sender, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		logger:     logger,
		recipients: make(map[string][]string),
	}
}

// Subscribe registers an address to receive messages addressed to role.
func (n *Notifier) Subscribe(role, address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recipients[role] = append(n.recipients[role], address)
}

// NotifyRole sends message to every subscriber of role. Errors are swallowed;
// each failed delivery is logged. Delivery runs with a bounded timeout so a
// slow channel cannot stall the request that triggered it.
func (n *Notifier) NotifyRole(ctx context.Context, role, message string) {
	n.mu.RLock()
	addrs := append([]string(nil), n.recipients[role]...)
	n.mu.RUnlock()

	n.logger.Info().
		Str("type", "notification").
		Str("role", role).
		Int("recipients", len(addrs)).
		Str("message", message).
		Msg("notify")

	if n.sender == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, addr := range addrs {
		if err := n.sender.Send(ctx, addr, message); err != nil {
			n.logger.Error().Err(err).
				Str("role", role).
				Str("recipient", addr).
				Msg("notification delivery failed")
		}
	}
}
