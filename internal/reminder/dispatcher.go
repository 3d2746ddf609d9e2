package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"habitbot/internal/eventbus"
	"habitbot/internal/habit"
	logx "habitbot/pkg/logx"

	"github.com/google/uuid"
)

// Store is the slice of storage the dispatcher reads and writes.
type Store interface {
	ListActiveHabits(ctx context.Context) ([]habit.Habit, error)
	WasReminderSent(ctx context.Context, habitID int64, sentAt string) (bool, error)
	LogReminderSent(ctx context.Context, habitID int64, sentAt string) error
	ChatIDForHabit(ctx context.Context, habitID int64) (string, bool, error)
}

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Policy decides what a run does with a per-habit fault (malformed stored
// time or failed delivery). Storage failures always abort.
type Policy string

const (
	// PolicyAbort stops the run at the first fault and returns it.
	PolicyAbort Policy = "abort"
	// PolicyContinue records the fault in the report and moves on.
	PolicyContinue Policy = "continue"
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "abort":
		return PolicyAbort, nil
	case "continue", "skip", "skip-and-continue":
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown on_error policy %q (use abort or continue)", raw)
	}
}

type Options struct {
	// DefaultRecipient is used for habits whose owner has no chat id.
	DefaultRecipient string
	OnError          Policy
	Location         *time.Location
	Now              func() time.Time
	Log              logx.Logger
	Bus              eventbus.Bus
}

// Dispatcher decides, per invocation, which reminders to send.
//
// It keeps no scheduling state: everything needed to avoid duplicate sends
// lives in the store's reminder ledger. Runs are serialized so overlapping
// triggers (cron, chat command, HTTP) cannot race on the ledger.
type Dispatcher struct {
	store    Store
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	log      logx.Logger
	bus      eventbus.Bus

	runMu sync.Mutex

	mu       sync.RWMutex
	fallback string
	policy   Policy
}

func NewDispatcher(store Store, n Notifier, opt Options) *Dispatcher {
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.OnError == "" {
		opt.OnError = PolicyAbort
	}
	return &Dispatcher{
		store:    store,
		notifier: n,
		loc:      opt.Location,
		now:      opt.Now,
		log:      opt.Log,
		bus:      opt.Bus,
		fallback: strings.TrimSpace(opt.DefaultRecipient),
		policy:   opt.OnError,
	}
}

// SetDefaultRecipient swaps the fallback recipient (config hot reload).
func (d *Dispatcher) SetDefaultRecipient(id string) {
	d.mu.Lock()
	d.fallback = strings.TrimSpace(id)
	d.mu.Unlock()
}

// SetPolicy swaps the per-habit fault policy (config hot reload).
func (d *Dispatcher) SetPolicy(p Policy) {
	if p == "" {
		p = PolicyAbort
	}
	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()
}

// Run checks every active habit against the current minute, or against
// override when it is non-empty (strict HH:MM), and sends the reminders that
// are due and not yet in the ledger.
//
// The returned report is filled as far as the run got, also on error.
func (d *Dispatcher) Run(ctx context.Context, override string) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := d.now().In(d.loc)
	clock := habit.ClockOf(now)
	if override != "" {
		c, err := habit.ParseClock(override)
		if err != nil {
			return Report{}, err
		}
		clock = c
	}

	d.mu.RLock()
	fallback, policy := d.fallback, d.policy
	d.mu.RUnlock()

	d.runMu.Lock()
	defer d.runMu.Unlock()

	rep := Report{
		RunID:     uuid.NewString(),
		Clock:     clock,
		SentAtKey: habit.SentAtKey(now, clock),
		Simulated: override != "",
	}
	log := d.log.With(logx.String("run_id", rep.RunID), logx.String("sent_at", rep.SentAtKey))
	start := time.Now()

	habits, err := d.store.ListActiveHabits(ctx)
	if err != nil {
		return rep, fmt.Errorf("list habits: %w", err)
	}

	for _, h := range habits {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !h.Active {
			continue
		}

		hhmm, err := habit.NormalizeClock(h.ReminderTime)
		if err != nil {
			err = fmt.Errorf("habit %d %q: %w", h.ID, h.Name, err)
			d.record(&rep, log, Outcome{HabitID: h.ID, Name: h.Name, Status: StatusFailed, Err: err})
			if policy == PolicyAbort {
				return rep, err
			}
			continue
		}
		if hhmm != clock {
			continue
		}

		sent, err := d.store.WasReminderSent(ctx, h.ID, rep.SentAtKey)
		if err != nil {
			return rep, fmt.Errorf("check ledger for habit %d: %w", h.ID, err)
		}
		if sent {
			d.record(&rep, log, Outcome{HabitID: h.ID, Name: h.Name, Status: StatusAlreadySent})
			continue
		}

		to, ok, err := d.store.ChatIDForHabit(ctx, h.ID)
		if err != nil {
			return rep, fmt.Errorf("resolve chat for habit %d: %w", h.ID, err)
		}
		if !ok {
			to = fallback
		}
		if to == "" {
			d.record(&rep, log, Outcome{HabitID: h.ID, Name: h.Name, Status: StatusNoRecipient})
			continue
		}

		if err := d.notifier.Send(ctx, to, Message(h.Name, clock)); err != nil {
			err = fmt.Errorf("failed to send reminder for habit %q at %s: %w", h.Name, clock, err)
			d.record(&rep, log, Outcome{HabitID: h.ID, Name: h.Name, Recipient: to, Status: StatusFailed, Err: err})
			if policy == PolicyAbort {
				return rep, err
			}
			continue
		}

		// The message is out; the ledger row must land even if the run is canceled now.
		if err := d.store.LogReminderSent(context.WithoutCancel(ctx), h.ID, rep.SentAtKey); err != nil {
			return rep, fmt.Errorf("log reminder for habit %d: %w", h.ID, err)
		}
		rep.Sent++
		d.record(&rep, log, Outcome{HabitID: h.ID, Name: h.Name, Recipient: to, Status: StatusSent})
	}

	fields := []logx.Field{logx.Int("sent", rep.Sent), logx.Int("habits", len(habits)), logx.Duration("took", time.Since(start))}
	if failed := len(rep.Failed()); failed > 0 {
		log.Warn("reminder run finished with failures", append(fields, logx.Int("failed", failed))...)
	} else if rep.Sent > 0 {
		log.Info("reminder run finished", fields...)
	} else {
		log.Debug("reminder run finished", fields...)
	}
	return rep, nil
}

// Message is the reminder text for a habit due at clock.
func Message(name, clock string) string {
	return fmt.Sprintf("Reminder: %s (time %s)", name, clock)
}

func (d *Dispatcher) record(rep *Report, log logx.Logger, o Outcome) {
	if o.Err != nil {
		o.Error = o.Err.Error()
	}
	rep.Outcomes = append(rep.Outcomes, o)

	switch o.Status {
	case StatusSent:
		log.Debug("reminder sent", logx.Int64("habit_id", o.HabitID), logx.String("to", o.Recipient))
		d.publish(EventSent, o)
	case StatusFailed:
		log.Warn("reminder failed", logx.Int64("habit_id", o.HabitID), logx.Err(o.Err))
		d.publish(EventFailed, o)
	default:
		log.Debug("reminder skipped", logx.Int64("habit_id", o.HabitID), logx.String("status", string(o.Status)))
		d.publish(EventSkipped, o)
	}
}

func (d *Dispatcher) publish(typ string, o Outcome) {
	if d.bus == nil {
		return
	}
	if o.Err != nil && o.Error == "" {
		o.Error = o.Err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: o})
}
