package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "habitbot/pkg/logx"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// chatRecipient passes the id through verbatim as chat_id.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

// Telegram sends messages through a telebot Bot.
//
// It is safe for concurrent use.
type Telegram struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func NewTelegram(bot *tele.Bot, cfg Config, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Telegram{
		bot: bot,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timeout: cfg.SendTimeout,
		log:     log,
	}
}

func (t *Telegram) Send(ctx context.Context, recipientID, text string) error {
	to := strings.TrimSpace(recipientID)
	if to == "" {
		return &DeliveryError{Recipient: recipientID, Description: ErrNoRecipient.Error(), Err: ErrNoRecipient}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Recipient: to, Description: err.Error(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return &DeliveryError{Recipient: to, Description: err.Error(), Err: err}
	}

	// telebot has no context-aware Send; the bot's http.Client bounds the
	// request. Never return while it is still in flight.
	_, err := t.bot.Send(chatRecipient(to), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		t.log.Debug("send failed", logx.String("to", to), logx.Err(err))
		return &DeliveryError{Recipient: to, Description: describe(err), Err: err}
	}
	return nil
}

// describe prefers Telegram's own description over the wrapped error text.
func describe(err error) string {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Description != "" {
		return apiErr.Description
	}
	return err.Error()
}
