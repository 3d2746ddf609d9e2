package storage

import (
	"context"
	"errors"
	"time"

	"habitbot/internal/habit"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (alias "sqlite3"): SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the dispatcher, the bot and the CLI.
type Store interface {
	ListActiveHabits(ctx context.Context) ([]habit.Habit, error)
	ListHabitsForUser(ctx context.Context, userID int64) ([]habit.Habit, error)
	CreateHabit(ctx context.Context, ownerID *int64, name, reminderTime string) (int64, error)

	MarkDoneToday(ctx context.Context, habitID int64) error
	DoneHabitIDsForToday(ctx context.Context) (map[int64]struct{}, error)

	WasReminderSent(ctx context.Context, habitID int64, sentAt string) (bool, error)
	LogReminderSent(ctx context.Context, habitID int64, sentAt string) error

	ChatIDForHabit(ctx context.Context, habitID int64) (string, bool, error)
	UpsertUser(ctx context.Context, name, chatID string) (int64, error)
	UserByChatID(ctx context.Context, chatID string) (habit.User, error)
	ListUsers(ctx context.Context) ([]habit.User, error)

	Close() error
}

// Option tweaks how a store computes "today".
type Option func(*options)

type options struct {
	now func() time.Time
	loc *time.Location
}

// WithClock overrides the wall clock (tests, simulations).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the zone used to derive calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func (o options) today() string {
	return habit.DateOf(o.now().In(o.loc))
}
