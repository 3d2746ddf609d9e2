package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"habitbot/internal/reminder"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManager(path)
	m.getenv = func(k string) string { return env[k] }
	return m
}

const sampleYAML = `
telegram:
  token: "yaml-token"
  owner_user_ids: [42]
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/habits.db
reminders:
  schedule: "@every 30s"
  timezone: UTC
  on_error: continue
  send_timeout: 5s
http:
  enabled: true
  cors_origins: ["http://localhost:3000"]
`

func TestLoadYAML(t *testing.T) {
	m := newTestManager(writeFile(t, "config.yaml", sampleYAML), nil)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "yaml-token" || !cfg.IsOwner(42) || cfg.IsOwner(7) {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.PollTimeout() != 15*time.Second || cfg.SendTimeout() != 5*time.Second {
		t.Fatalf("durations = %v %v", cfg.PollTimeout(), cfg.SendTimeout())
	}
	if cfg.Policy() != reminder.PolicyContinue || !cfg.RemindersEnabled() || !cfg.PollingEnabled() {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if cfg.HTTPAddr() != DefaultHTTPAddr || len(cfg.HTTP.CORSOrigins) != 1 {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	m := newTestManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"logging":{"level":"info"}}`), nil)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoragePath() != DefaultStoragePath || cfg.BusyTimeout() != 5*time.Second {
		t.Fatalf("storage defaults = %q %v", cfg.StoragePath(), cfg.BusyTimeout())
	}
	if cfg.Policy() != reminder.PolicyAbort || cfg.SendTimeout() != 10*time.Second {
		t.Fatalf("reminder defaults = %q %v", cfg.Policy(), cfg.SendTimeout())
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	tests := map[string]string{
		"unknown json": `{"telegram":{"token":"x","chat":"1"}}`,
		"trailing":     `{"telegram":{"token":"x"}} {}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := newTestManager(writeFile(t, "c.json", body), nil).Parse(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := newTestManager(writeFile(t, "c.yml", "reminders:\n  shedule: x\n"), nil).Parse(); err == nil {
		t.Fatal("expected error for unknown yaml key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"schedule", func(c *Config) { c.Reminders.Schedule = "sometimes" }, "reminders.schedule"},
		{"timezone", func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, "reminders.timezone"},
		{"policy", func(c *Config) { c.Reminders.OnError = "retry" }, "reminders.on_error"},
		{"timeout", func(c *Config) { c.Reminders.SendTimeout = "soon" }, "reminders.send_timeout"},
		{"rate", func(c *Config) { c.Reminders.RatePerSec = -1 }, "reminders.rate_per_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			tt.mut(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want mention of %s", err, tt.want)
			}
		})
	}
	var ok Config
	if err := ok.Validate(); err != nil {
		t.Fatalf("zero config: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{EnvBotToken: " env-token ", EnvChatID: "-100123"}
	cfg, err := newTestManager(writeFile(t, "config.yaml", sampleYAML), env).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Reminders.DefaultChatID != "-100123" {
		t.Fatalf("env not applied: token=%q chat=%q", cfg.Telegram.Token, cfg.Reminders.DefaultChatID)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HABITBOT_TEST_A=from-file\nHABITBOT_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HABITBOT_TEST_A", "from-env")
	t.Setenv("HABITBOT_TEST_B", "")
	os.Unsetenv("HABITBOT_TEST_B")

	LoadDotEnv(filepath.Join(dir, "config.yaml"))
	if got := os.Getenv("HABITBOT_TEST_A"); got != "from-env" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("HABITBOT_TEST_B"); got != "from-file" {
		t.Fatalf("B = %q", got)
	}
}

func TestReloadPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := newTestManager(path, nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.Reload() {
		t.Fatal("unchanged file was republished")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"},"reminders":{"default_chat_id":"@ops"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.Reload() {
		t.Fatal("changed file was not published")
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" || cfg.Reminders.DefaultChatID != "@ops" {
			t.Fatalf("published = %+v", cfg)
		}
	default:
		t.Fatal("no config published")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"shout"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.Reload() {
		t.Fatal("invalid file was published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("invalid reload replaced config: %+v", m.Get().Logging)
	}
}

func TestSummarize(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	next := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "debug"}}
	next.Reminders.DefaultChatID = "@ops"

	changed, fields := Summarize(old, next)
	if strings.Join(changed, ",") != "logging,reminders" || len(fields) == 0 {
		t.Fatalf("changed = %v", changed)
	}
	if RequiresRestart(changed, old, next) {
		t.Fatal("level and default chat should apply live")
	}

	next.Reminders.Schedule = "*/5 * * * *"
	changed, _ = Summarize(old, next)
	if !RequiresRestart(changed, old, next) {
		t.Fatal("schedule change should require restart")
	}

	owners := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}, Logging: old.Logging}
	changed, _ = Summarize(old, owners)
	if len(changed) != 1 || changed[0] != "telegram" || RequiresRestart(changed, old, owners) {
		t.Fatalf("owner change: changed=%v", changed)
	}
}
