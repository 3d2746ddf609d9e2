package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"habitbot/internal/habit"
	"habitbot/internal/notifier"
	logx "habitbot/pkg/logx"
)

// Request is one parsed command message.
type Request struct {
	Command   string
	Args      []string
	ChatID    string
	FromID    int64
	FirstName string
	Log       logx.Logger
}

type Command struct {
	Name        string
	Usage       string
	Description string
	OwnerOnly   bool
	Handle      HandlerFunc
}

// usageError is shown to the user as is.
type usageError struct{ usage string }

func (e usageError) Error() string { return "usage: " + e.usage }

var (
	errForbidden     = errors.New("this command is for bot owners only")
	errNotRegistered = errors.New("you are not registered yet, send /start first")
)

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Usage: "/start", Description: "register this chat for reminders", Handle: b.cmdStart},
		{Name: "add", Usage: "/add HH:MM name", Description: "create a daily habit", Handle: b.cmdAdd},
		{Name: "habits", Usage: "/habits", Description: "list your habits and today's status", Handle: b.cmdHabits},
		{Name: "done", Usage: "/done <id>", Description: "mark a habit done for today", Handle: b.cmdDone},
		{Name: "check", Usage: "/check [HH:MM]", Description: "run the reminder check now", OwnerOnly: true, Handle: b.cmdCheck},
		{Name: "help", Usage: "/help", Description: "show this help", Handle: b.cmdHelp},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) (string, error) {
	name := strings.TrimSpace(req.FirstName)
	if name == "" {
		name = "User"
	}
	if _, err := b.store.UpsertUser(ctx, name, req.ChatID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hi %s! This chat will receive your habit reminders.\nAdd one with /add HH:MM name.", name), nil
}

func (b *Bot) sender(ctx context.Context, req *Request) (habit.User, error) {
	u, err := b.store.UserByChatID(ctx, req.ChatID)
	if errors.Is(err, habit.ErrNotFound) {
		return habit.User{}, errNotRegistered
	}
	return u, err
}

func (b *Bot) cmdAdd(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "", usageError{"/add HH:MM name"}
	}
	u, err := b.sender(ctx, req)
	if err != nil {
		return "", err
	}
	hhmm, err := habit.NormalizeClock(req.Args[0])
	if err != nil {
		return "", err
	}
	name := strings.Join(req.Args[1:], " ")
	id, err := b.store.CreateHabit(ctx, &u.ID, name, hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added #%d %s, reminder at %s.", id, strings.TrimSpace(name), hhmm), nil
}

func (b *Bot) cmdHabits(ctx context.Context, req *Request) (string, error) {
	u, err := b.sender(ctx, req)
	if err != nil {
		return "", err
	}
	hs, err := b.store.ListHabitsForUser(ctx, u.ID)
	if err != nil {
		return "", err
	}
	if len(hs) == 0 {
		return "No habits yet. Add one with /add HH:MM name.", nil
	}
	done, err := b.store.DoneHabitIDsForToday(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Your habits:\n")
	for _, h := range hs {
		mark := "⏳"
		if _, ok := done[h.ID]; ok {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s #%d %s %s\n", mark, h.ID, h.ReminderTime, h.Name)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bot) cmdDone(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "", usageError{"/done <id>"}
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil {
		return "", usageError{"/done <id>"}
	}
	u, err := b.sender(ctx, req)
	if err != nil {
		return "", err
	}
	hs, err := b.store.ListHabitsForUser(ctx, u.ID)
	if err != nil {
		return "", err
	}
	for _, h := range hs {
		if h.ID != id {
			continue
		}
		if err := b.store.MarkDoneToday(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ %s done for today.", h.Name), nil
	}
	return "", fmt.Errorf("habit #%d: %w", id, habit.ErrNotFound)
}

func (b *Bot) cmdCheck(ctx context.Context, req *Request) (string, error) {
	var at string
	if len(req.Args) > 0 {
		at = req.Args[0]
	}
	rep, err := b.runner.Run(ctx, at)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Checked %s: %d reminder(s) sent.", rep.SentAtKey, rep.Sent)
	for _, o := range rep.Failed() {
		fmt.Fprintf(&sb, "\n⚠️ #%d %s: %s", o.HabitID, o.Name, o.Error)
	}
	return sb.String(), nil
}

func (b *Bot) cmdHelp(_ context.Context, req *Request) (string, error) {
	owner := b.cfg.IsOwner != nil && b.cfg.IsOwner(req.FromID)
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range b.commands() {
		if c.OwnerOnly && !owner {
			continue
		}
		fmt.Fprintf(&sb, "%s - %s\n", c.Usage, c.Description)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// userMessage maps a handler error to the reply text; unexpected errors stay
// generic and are only logged.
func userMessage(err error) string {
	var (
		ue usageError
		de *notifier.DeliveryError
	)
	switch {
	case errors.As(err, &ue):
		return ue.Error()
	case errors.As(err, &de):
		return "Delivery failed: " + err.Error()
	case errors.Is(err, habit.ErrInvalidTimeFormat):
		return "Invalid time, use HH:MM (24h), e.g. 07:30."
	case errors.Is(err, habit.ErrEmptyName):
		return "The habit needs a name."
	case errors.Is(err, habit.ErrNotFound):
		return "Not found: " + err.Error()
	case errors.Is(err, errForbidden), errors.Is(err, errNotRegistered):
		return err.Error()
	default:
		return "Something went wrong, please try again later."
	}
}

// parseCommand splits "/add@MyBot 07:30 Read" into ("add", ["07:30", "Read"]).
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}
