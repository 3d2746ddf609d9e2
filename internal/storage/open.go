package storage

import (
	"errors"
	"strings"
	"time"

	logx "habitbot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	o := options{now: time.Now, loc: time.Local}
	for _, fn := range opts {
		fn(&o)
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log, o)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
