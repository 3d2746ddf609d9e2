package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"habitbot/internal/habit"
	"habitbot/internal/reminder"
	rtsup "habitbot/internal/runtime/supervisor"
	logx "habitbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Store is the slice of storage the chat commands use.
type Store interface {
	UpsertUser(ctx context.Context, name, chatID string) (int64, error)
	UserByChatID(ctx context.Context, chatID string) (habit.User, error)
	CreateHabit(ctx context.Context, ownerID *int64, name, reminderTime string) (int64, error)
	ListHabitsForUser(ctx context.Context, userID int64) ([]habit.Habit, error)
	DoneHabitIDsForToday(ctx context.Context) (map[int64]struct{}, error)
	MarkDoneToday(ctx context.Context, habitID int64) error
}

type Config struct {
	// IsOwner gates owner-only commands; it is consulted per message so
	// owner lists can change at runtime.
	IsOwner        func(userID int64) bool
	CommandTimeout time.Duration
}

// Message is an incoming chat text.
type Message struct {
	Text      string
	ChatID    string
	FromID    int64
	FirstName string
}

// Bot serves chat commands over telebot long polling.
type Bot struct {
	tb     *tele.Bot
	store  Store
	runner reminder.Runner
	cfg    Config
	log    logx.Logger

	handlers map[string]HandlerFunc

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(tb *tele.Bot, store Store, runner reminder.Runner, cfg Config, log logx.Logger) (*Bot, error) {
	if tb == nil {
		return nil, errors.New("telegram bot is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	b := &Bot{tb: tb, store: store, runner: runner, cfg: cfg, log: log, handlers: map[string]HandlerFunc{}}

	for _, c := range b.commands() {
		mw := []Middleware{withRecover(), withRequestLog(), withTimeout(cfg.CommandTimeout)}
		if c.OwnerOnly {
			mw = append(mw, withOwnerOnly(cfg.IsOwner))
		}
		b.handlers[c.Name] = Chain(c.Handle, mw...)
	}
	tb.Handle(tele.OnText, b.onText)
	return b, nil
}

// Dispatch runs the command in msg and returns the reply. ok is false for
// text that is not a command.
func (b *Bot) Dispatch(ctx context.Context, msg Message) (reply string, ok bool) {
	name, args := parseCommand(msg.Text)
	if name == "" {
		return "", false
	}
	h := b.handlers[name]
	if h == nil {
		return "Unknown command, see /help.", true
	}
	req := &Request{
		Command:   name,
		Args:      args,
		ChatID:    msg.ChatID,
		FromID:    msg.FromID,
		FirstName: msg.FirstName,
		Log:       b.log,
	}
	out, err := h(ctx, req)
	if err != nil {
		return userMessage(err), true
	}
	return out, true
}

func (b *Bot) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := Message{Text: m.Text, ChatID: strconv.FormatInt(m.Chat.ID, 10)}
	if u := c.Sender(); u != nil {
		msg.FromID = u.ID
		msg.FirstName = u.FirstName
	}

	reply, ok := b.Dispatch(b.context(), msg)
	if !ok || reply == "" {
		return nil
	}
	for _, chunk := range splitText(reply, textLimit) {
		if err := c.Send(chunk); err != nil {
			b.log.Warn("reply failed", logx.String("chat_id", msg.ChatID), logx.Err(err))
			return nil
		}
	}
	return nil
}

func (b *Bot) context() context.Context {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup == nil {
		return context.Background()
	}
	return b.sup.Context()
}

// Start begins long polling. It is idempotent.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	if b.sup != nil {
		b.runMu.Unlock()
		return
	}
	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log))
	sup := b.sup
	b.runMu.Unlock()

	sup.Go0("telegram.menu", func(context.Context) {
		if err := b.tb.SetCommands(b.menu()); err != nil {
			b.log.Warn("menu update failed", logx.Err(err))
		}
	})

	// telebot's Start blocks until Stop; restart it if it returns on its own.
	sup.GoRestart("telegram.poll", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				b.tb.Stop()
			case <-done:
			}
		}()
		b.log.Info("polling started")
		b.tb.Start()
		close(done)
		b.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithRestartOnCleanExit(true),
	)
}

// Stop ends polling. Shutdown never waits long on a pending getUpdates call.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()
	if sup == nil {
		return
	}
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, time.Until(dl))
	}
	wctx, cancel := context.WithTimeout(context.Background(), max(grace, 0))
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		b.log.Warn("telegram stop", logx.Err(err))
	}
}

func (b *Bot) Snapshot() rtsup.Snapshot {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup.Snapshot()
}

func (b *Bot) menu() []tele.Command {
	var out []tele.Command
	for _, c := range b.commands() {
		if c.OwnerOnly {
			continue
		}
		out = append(out, tele.Command{Text: c.Name, Description: c.Description})
	}
	return out
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
