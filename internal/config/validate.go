package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"habitbot/internal/reminder"
)

const (
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultStoragePath = "./habits.db"
)

// Validate checks every field that can be checked without network access.
// The bot token is not required here; commands that talk to Telegram check it.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	_, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout, 0)
	add(err)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	_, err = ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	add(err)

	add(reminder.ValidateSchedule(c.Reminders.Schedule))
	_, err = c.Location()
	add(err)
	if _, err := reminder.ParsePolicy(c.Reminders.OnError); err != nil {
		add(fmt.Errorf("reminders.on_error: %w", err))
	}
	_, err = ParseDuration("reminders.send_timeout", c.Reminders.SendTimeout, 0)
	add(err)
	if c.Reminders.RatePerSec < 0 {
		add(errors.New("reminders.rate_per_sec: must be >= 0"))
	}

	return errors.Join(errs...)
}

// HTTPAddr returns http.addr or the loopback default.
func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

// StoragePath returns the configured database path or the default.
func (c *Config) StoragePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return DefaultStoragePath
}

// SendTimeout returns reminders.send_timeout, defaulting to 10s.
func (c *Config) SendTimeout() time.Duration {
	d, err := ParseDuration("reminders.send_timeout", c.Reminders.SendTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// PollTimeout returns telegram.poll_timeout, defaulting to 10s.
func (c *Config) PollTimeout() time.Duration {
	d, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// BusyTimeout returns storage.busy_timeout, defaulting to 5s.
func (c *Config) BusyTimeout() time.Duration {
	d, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Policy returns the parsed reminders.on_error, defaulting to abort.
func (c *Config) Policy() reminder.Policy {
	p, err := reminder.ParsePolicy(c.Reminders.OnError)
	if err != nil {
		return reminder.PolicyAbort
	}
	return p
}
