package reminder

import "time"

const (
	EventSent    = "reminder.sent"
	EventSkipped = "reminder.skipped"
	EventFailed  = "reminder.failed"
)

type Status string

const (
	StatusSent        Status = "sent"
	StatusAlreadySent Status = "already_sent"
	StatusNoRecipient Status = "no_recipient"
	StatusFailed      Status = "failed"
)

// Outcome is what happened to one habit whose reminder time matched
// (or could not be read) during a run.
type Outcome struct {
	HabitID   int64  `json:"habit_id"`
	Name      string `json:"name"`
	Recipient string `json:"recipient,omitempty"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

// Report summarizes a dispatcher run. Sent counts successful notifications only.
type Report struct {
	RunID     string    `json:"run_id"`
	Clock     string    `json:"clock"`
	SentAtKey string    `json:"sent_at"`
	Simulated bool      `json:"simulated"`
	Sent      int       `json:"sent"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// Failed returns the outcomes that ended in a fault.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// TriggerStatus is the periodic trigger's view of its last tick.
type TriggerStatus struct {
	Running    bool      `json:"running"`
	Schedule   string    `json:"schedule"`
	LastMinute string    `json:"last_minute,omitempty"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastSent   int       `json:"last_sent"`
	LastError  string    `json:"last_error,omitempty"`
	Next       time.Time `json:"next,omitempty"`
}
