package config

import (
	"reflect"
	"strings"

	logx "habitbot/pkg/logx"
)

// Summarize lists the config sections that differ and returns log fields
// describing the new values. Secrets (tokens) are reported as set/unset only.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.PollingEnabled() != newCfg.PollingEnabled() {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.path", newCfg.Storage.Path))
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		fields = append(fields,
			logx.Bool("reminders.enabled", newCfg.RemindersEnabled()),
			logx.String("reminders.schedule", newCfg.Reminders.Schedule),
			logx.String("reminders.on_error", string(newCfg.Policy())),
			logx.Bool("reminders.default_chat_set", strings.TrimSpace(newCfg.Reminders.DefaultChatID) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTPAddr()),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	return changed, fields
}

// RequiresRestart reports whether a change touches settings that are only
// read at startup (token, storage, schedule, HTTP listener).
func RequiresRestart(changed []string, oldCfg, newCfg *Config) bool {
	for _, s := range changed {
		switch s {
		case "storage", "http":
			return true
		}
		if oldCfg == nil || newCfg == nil {
			return true
		}
		switch s {
		case "telegram":
			// owner ids are read per command
			if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
				oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
				oldCfg.PollingEnabled() != newCfg.PollingEnabled() {
				return true
			}
		case "reminders":
			if oldCfg.Reminders.Schedule != newCfg.Reminders.Schedule ||
				oldCfg.Reminders.Timezone != newCfg.Reminders.Timezone ||
				oldCfg.RemindersEnabled() != newCfg.RemindersEnabled() ||
				oldCfg.Reminders.RatePerSec != newCfg.Reminders.RatePerSec ||
				oldCfg.Reminders.SendTimeout != newCfg.Reminders.SendTimeout {
				return true
			}
		}
	}
	return false
}
