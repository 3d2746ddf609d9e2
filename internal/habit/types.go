package habit

import "errors"

var (
	// ErrInvalidTimeFormat is returned for a malformed HH:MM value, either a
	// dispatch override or a stored reminder time.
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrEmptyName         = errors.New("habit name is empty")
	ErrNotFound          = errors.New("not found")
)

// User is a registered chat user. ChatID is the natural key.
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	ChatID string `json:"chat_id"`
}

// Habit is a named daily task with a reminder time.
//
// ReminderTime is kept as stored so a malformed legacy value surfaces when the
// habit is scheduled rather than when it is listed. OwnerID is nil for rows
// created before users existed.
type Habit struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ReminderTime string `json:"reminder_time"`
	Active       bool   `json:"is_active"`
	OwnerID      *int64 `json:"owner_user_id,omitempty"`
}

// Owned reports whether the habit belongs to userID.
func (h Habit) Owned(userID int64) bool {
	return h.OwnerID != nil && *h.OwnerID == userID
}

// Completion records that a habit was done on Date (YYYY-MM-DD, local).
type Completion struct {
	HabitID int64  `json:"habit_id"`
	Date    string `json:"date"`
}

// ReminderLogEntry marks a reminder as dispatched for an exact SentAt key.
type ReminderLogEntry struct {
	HabitID int64  `json:"habit_id"`
	SentAt  string `json:"sent_at"`
}
