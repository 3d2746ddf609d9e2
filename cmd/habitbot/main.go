package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Path to the config file (YAML or JSON)." type:"path" default:"./config.yaml" env:"HABITBOT_CONFIG"`

	Serve ServeCmd `cmd:"" help:"Run the reminder trigger, chat bot and HTTP API." default:"1"`
	Check CheckCmd `cmd:"" help:"Dispatch due reminders once and print the report."`
	User  struct {
		Add  UserAddCmd  `cmd:"" help:"Register a user and their chat id."`
		List UserListCmd `cmd:"" help:"List users."`
	} `cmd:"" help:"Manage users."`
	Habit struct {
		Add  HabitAddCmd  `cmd:"" help:"Add a habit."`
		List HabitListCmd `cmd:"" help:"List habits."`
		Done HabitDoneCmd `cmd:"" help:"Mark a habit done for today."`
	} `cmd:"" help:"Manage habits."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("habitbot"),
		kong.Description("Habit tracker with Telegram reminders"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": "v0.1.0"},
	)

	err := ctx.Run(&Context{ConfigPath: CLI.Config})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
