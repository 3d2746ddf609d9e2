package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via TELEGRAM_BOT_TOKEN.
	Token string `json:"token"`
	// OwnerUserIDs may run /check from chat.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Polling disables the chat bot when false (send-only mode).
	Polling *bool `json:"polling,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./habits.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// RemindersConfig controls the periodic dispatcher trigger.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - schedule: "* * * * *"
//   - timezone: process local zone
//   - on_error: "abort"
//   - send_timeout: "10s"
//   - rate_per_sec: 20
type RemindersConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// DefaultChatID receives reminders for habits without an owner chat.
	// TELEGRAM_CHAT_ID overrides it.
	DefaultChatID string `json:"default_chat_id,omitempty"`

	// OnError is "abort" or "continue".
	OnError     string `json:"on_error,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - Token is a bearer token required on every route but /health (do not log).
type HTTPConfig struct {
	Enabled     bool     `json:"enabled"`
	Addr        string   `json:"addr,omitempty"`
	Token       string   `json:"token,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// Pprof mounts /debug/pprof behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

// RemindersEnabled reports whether the periodic trigger should run.
func (c *Config) RemindersEnabled() bool {
	return c.Reminders.Enabled == nil || *c.Reminders.Enabled
}

// PollingEnabled reports whether the chat bot should long-poll for updates.
func (c *Config) PollingEnabled() bool {
	return c.Telegram.Polling == nil || *c.Telegram.Polling
}

// IsOwner reports whether the Telegram user id is listed as an owner.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
