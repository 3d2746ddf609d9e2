package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvChatID   = "TELEGRAM_CHAT_ID"
)

// LoadDotEnv loads .env next to the config file and in the working directory.
// Variables already present in the environment win; missing files are fine.
func LoadDotEnv(configPath string) {
	seen := map[string]bool{}
	for _, p := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			_ = godotenv.Load(abs)
		}
	}
}

// applyEnv overlays environment secrets on a parsed config.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvBotToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvChatID)); v != "" {
		cfg.Reminders.DefaultChatID = v
	}
}
