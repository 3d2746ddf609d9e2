package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoRecipient = errors.New("recipient is empty")

// Notifier sends text to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Config controls the Telegram notifier.
type Config struct {
	// RatePerSec caps outgoing messages; Telegram allows ~30/s per bot.
	RatePerSec int
	// SendTimeout bounds the wait for a rate-limiter slot. The request
	// itself is bounded by the bot's http.Client.
	SendTimeout time.Duration
}

// DeliveryError reports a failed delivery. Description carries the
// transport's own failure text when it provided one.
type DeliveryError struct {
	Recipient   string
	Description string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("delivery to %q failed: %s", e.Recipient, e.Description)
	}
	return fmt.Sprintf("delivery to %q failed", e.Recipient)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
