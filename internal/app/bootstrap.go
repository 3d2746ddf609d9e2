package app

import (
	"errors"
	"net/http"
	"strings"

	"habitbot/internal/config"
	"habitbot/internal/storage"
	logx "habitbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

var errNoToken = errors.New("telegram token is required (set telegram.token or " + config.EnvBotToken + ")")

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.StoragePath(),
		BusyTimeout: cfg.BusyTimeout(),
	}
}

// OpenStore opens the configured store with calendar dates in the
// reminders timezone.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return storage.Open(storageConfig(cfg), log, storage.WithLocation(loc))
}

// newTeleBot builds the telebot client. Offline skips the getMe call
// made at construction time.
func newTeleBot(cfg *config.Config, log logx.Logger, offline bool) (*tele.Bot, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		return nil, errNoToken
	}
	return tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout()},
		Client:  teleClient(cfg),
		Offline: offline,
		OnError: func(err error, c tele.Context) {
			fields := []logx.Field{logx.Err(err)}
			if c != nil && c.Chat() != nil {
				fields = append(fields, logx.Int64("chat_id", c.Chat().ID))
			}
			log.Warn("telegram error", fields...)
		},
	})
}

// teleClient bounds every Bot API request. getUpdates holds the connection
// for up to the poll timeout, so sends get the send timeout on top of it.
func teleClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.PollTimeout() + cfg.SendTimeout()}
}
