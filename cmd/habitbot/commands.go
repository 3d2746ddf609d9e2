package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"habitbot/internal/app"
	"habitbot/internal/config"
	"habitbot/internal/habit"
	"habitbot/internal/storage"
	logx "habitbot/pkg/logx"
)

// Context is passed to every command's Run.
type Context struct {
	ConfigPath string
}

// openStore loads config and opens storage without touching Telegram.
func (c *Context) openStore() (storage.Store, error) {
	config.LoadDotEnv(c.ConfigPath)
	cfg, err := config.NewManager(c.ConfigPath).Load()
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cfg, logx.NewConsole("warn"))
}

type ServeCmd struct{}

func (s *ServeCmd) Run(c *Context) error {
	a, err := app.New(c.ConfigPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		a.Close()
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fatal := a.Err()
	_ = a.Stop(ctx, reason)
	return fatal
}

type CheckCmd struct {
	At string `help:"Check as if the clock read HH:MM (today's date)." placeholder:"HH:MM"`
}

func (cmd *CheckCmd) Run(c *Context) error {
	a, err := app.New(c.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	rep, runErr := a.Check(ctx, cmd.At)
	if rep.RunID != "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	}
	return runErr
}

type UserAddCmd struct {
	Name   string `arg:"" help:"Display name."`
	ChatID string `arg:"" help:"Telegram chat id reminders go to."`
}

func (cmd *UserAddCmd) Run(c *Context) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.UpsertUser(context.Background(), cmd.Name, cmd.ChatID)
	if err != nil {
		return err
	}
	fmt.Printf("User #%d %s (chat %s)\n", id, cmd.Name, cmd.ChatID)
	return nil
}

type UserListCmd struct{}

func (cmd *UserListCmd) Run(c *Context) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}
	for _, u := range users {
		fmt.Printf("#%d\t%s\tchat %s\n", u.ID, u.Name, u.ChatID)
	}
	return nil
}

type HabitAddCmd struct {
	Name string `arg:"" help:"Habit name."`
	Time string `arg:"" help:"Reminder time (HH:MM)."`
	User int64  `help:"Owning user id; omit for a habit that reminds the default chat."`
}

func (cmd *HabitAddCmd) Run(c *Context) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var owner *int64
	if cmd.User > 0 {
		owner = &cmd.User
	}
	id, err := st.CreateHabit(context.Background(), owner, cmd.Name, cmd.Time)
	if err != nil {
		return err
	}
	fmt.Printf("Added habit #%d: %s\n", id, cmd.Name)
	return nil
}

type HabitListCmd struct {
	User int64 `help:"Only habits of this user id."`
}

func (cmd *HabitListCmd) Run(c *Context) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var hs []habit.Habit
	if cmd.User > 0 {
		hs, err = st.ListHabitsForUser(ctx, cmd.User)
	} else {
		hs, err = st.ListActiveHabits(ctx)
	}
	if err != nil {
		return err
	}
	done, err := st.DoneHabitIDsForToday(ctx)
	if err != nil {
		return err
	}
	if len(hs) == 0 {
		fmt.Println("No habits found.")
		return nil
	}
	for _, h := range hs {
		mark := " "
		if _, ok := done[h.ID]; ok {
			mark = "x"
		}
		fmt.Printf("[%s] #%d\t%s\t%s\n", mark, h.ID, h.ReminderTime, h.Name)
	}
	return nil
}

type HabitDoneCmd struct {
	ID int64 `arg:"" help:"Habit id."`
}

func (cmd *HabitDoneCmd) Run(c *Context) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.MarkDoneToday(context.Background(), cmd.ID); err != nil {
		if errors.Is(err, habit.ErrNotFound) {
			return fmt.Errorf("habit #%d not found", cmd.ID)
		}
		return err
	}
	fmt.Printf("Habit #%d done for today.\n", cmd.ID)
	return nil
}
