package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"habitbot/internal/habit"
	logx "habitbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	opt options
}

func openSQLite(cfg Config, log logx.Logger, opt options) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, opt: opt}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}

	// Databases created before users existed have no habits.user_id.
	has, err := s.hasColumn(ctx, "habits", "user_id")
	if err != nil {
		return err
	}
	if !has {
		s.log.Info("adding habits.user_id column")
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE habits ADD COLUMN user_id INTEGER`); err != nil {
			return err
		}
	}

	// Older databases may hold duplicates; keep the first row of each pair so
	// the unique indexes can be built.
	stmts := []string{
		`DELETE FROM completions WHERE id NOT IN (SELECT MIN(id) FROM completions GROUP BY habit_id, date)`,
		`DELETE FROM reminder_log WHERE id NOT IN (SELECT MIN(id) FROM reminder_log GROUP BY habit_id, sent_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_completions_habit_date ON completions (habit_id, date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_reminder_log_habit_sent ON reminder_log (habit_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS ix_habits_user ON habits (user_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const habitColumns = `id, name, reminder_time, COALESCE(is_active, 1), user_id`

func (s *sqliteStore) ListActiveHabits(ctx context.Context) ([]habit.Habit, error) {
	return s.queryHabits(ctx, `SELECT `+habitColumns+` FROM habits WHERE is_active = 1 ORDER BY id`)
}

func (s *sqliteStore) ListHabitsForUser(ctx context.Context, userID int64) ([]habit.Habit, error) {
	return s.queryHabits(ctx, `SELECT `+habitColumns+` FROM habits WHERE is_active = 1 AND user_id = ? ORDER BY id`, userID)
}

func (s *sqliteStore) queryHabits(ctx context.Context, q string, args ...any) ([]habit.Habit, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []habit.Habit
	for rows.Next() {
		var (
			h      habit.Habit
			active int64
			owner  sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.Name, &h.ReminderTime, &active, &owner); err != nil {
			return nil, err
		}
		h.Active = active != 0
		if owner.Valid {
			id := owner.Int64
			h.OwnerID = &id
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateHabit(ctx context.Context, ownerID *int64, name, reminderTime string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, habit.ErrEmptyName
	}
	hhmm, err := habit.NormalizeClock(reminderTime)
	if err != nil {
		return 0, err
	}

	var owner any
	if ownerID != nil {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, *ownerID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %d: %w", *ownerID, habit.ErrNotFound)
		}
		if err != nil {
			return 0, err
		}
		owner = *ownerID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO habits(name, reminder_time, is_active, user_id) VALUES(?,?,1,?)`,
		name, hhmm, owner,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) MarkDoneToday(ctx context.Context, habitID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM habits WHERE id = ?`, habitID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("habit %d: %w", habitID, habit.ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completions(habit_id, date) VALUES(?,?)
		 ON CONFLICT(habit_id, date) DO NOTHING`,
		habitID, s.opt.today(),
	)
	return err
}

func (s *sqliteStore) DoneHabitIDsForToday(ctx context.Context) (map[int64]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT habit_id FROM completions WHERE date = ?`, s.opt.today())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *sqliteStore) WasReminderSent(ctx context.Context, habitID int64, sentAt string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reminder_log WHERE habit_id = ? AND sent_at = ? LIMIT 1`,
		habitID, sentAt,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) LogReminderSent(ctx context.Context, habitID int64, sentAt string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_log(habit_id, sent_at) VALUES(?,?)
		 ON CONFLICT(habit_id, sent_at) DO NOTHING`,
		habitID, sentAt,
	)
	return err
}

func (s *sqliteStore) ChatIDForHabit(ctx context.Context, habitID int64) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var chatID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT users.chat_id
		   FROM habits
		   JOIN users ON users.id = habits.user_id
		  WHERE habits.id = ?
		  LIMIT 1`,
		habitID,
	).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v := strings.TrimSpace(chatID.String)
	if !chatID.Valid || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, name, chatID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return 0, errors.New("chat id is required")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users(name, chat_id) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		nullStr(name), chatID,
	).Scan(&id)
	return id, err
}

func (s *sqliteStore) UserByChatID(ctx context.Context, chatID string) (habit.User, error) {
	if s == nil || s.db == nil {
		return habit.User{}, ErrClosed
	}
	var (
		u    habit.User
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, chat_id FROM users WHERE chat_id = ? LIMIT 1`,
		strings.TrimSpace(chatID),
	).Scan(&u.ID, &name, &u.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.User{}, fmt.Errorf("user with chat %s: %w", chatID, habit.ErrNotFound)
	}
	if err != nil {
		return habit.User{}, err
	}
	u.Name = name.String
	return u, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]habit.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, chat_id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []habit.User
	for rows.Next() {
		var (
			u            habit.User
			name, chatID sql.NullString
		)
		if err := rows.Scan(&u.ID, &name, &chatID); err != nil {
			return nil, err
		}
		u.Name = name.String
		u.ChatID = chatID.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return strings.TrimSpace(v)
}
