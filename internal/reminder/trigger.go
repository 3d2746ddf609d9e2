package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "habitbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule fires at the start of every minute.
const DefaultSchedule = "* * * * *"

// Runner is what the trigger invokes; *Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, override string) (Report, error)
}

type TriggerConfig struct {
	// Schedule is a cron spec ("* * * * *", "@every 30s").
	Schedule string
	Location *time.Location
	// RunTimeout bounds one run; it should stay under the tick interval.
	RunTimeout time.Duration
	Now        func() time.Time
}

// Trigger invokes the dispatcher periodically.
//
// It owns the caller-side "last checked minute": a tick landing in a minute
// that was already checked does not dispatch again. A failed run is logged and
// remembered; the next tick runs normally.
type Trigger struct {
	runner Runner
	log    logx.Logger
	cfg    TriggerConfig
	sched  cron.Schedule

	mu         sync.Mutex
	c          *cron.Cron
	entry      cron.EntryID
	runCtx     context.Context
	lastMinute string
	lastRun    time.Time
	lastSent   int
	lastErr    error
}

func NewTrigger(r Runner, cfg TriggerConfig, log logx.Logger) (*Trigger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 50 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("reminders.schedule: invalid %q: %w", cfg.Schedule, err)
	}
	return &Trigger{runner: r, log: log, cfg: cfg, sched: sched}, nil
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a usable cron schedule.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("reminders.schedule: invalid %q: %w", spec, err)
	}
	return nil
}

// Start begins periodic triggering. It is idempotent.
func (t *Trigger) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	cl := cronLogger{log: t.log}
	t.runCtx = ctx
	t.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(t.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	t.entry = t.c.Schedule(t.sched, cron.FuncJob(func() { t.Tick(t.context()) }))
	t.c.Start()
	t.log.Info("trigger started", logx.String("schedule", t.cfg.Schedule), logx.String("tz", t.cfg.Location.String()))
}

// Stop halts triggering and waits for an in-flight run until ctx expires.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("trigger stopped")
}

func (t *Trigger) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runCtx == nil {
		return context.Background()
	}
	return t.runCtx
}

// Tick runs the dispatcher once unless the current minute was already
// checked. It reports whether a run happened.
func (t *Trigger) Tick(ctx context.Context) bool {
	minute := t.cfg.Now().In(t.cfg.Location).Format("2006-01-02 15:04")

	t.mu.Lock()
	if minute == t.lastMinute {
		t.mu.Unlock()
		return false
	}
	t.lastMinute = minute
	t.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, t.cfg.RunTimeout)
	defer cancel()
	rep, err := t.runner.Run(rctx, "")

	t.mu.Lock()
	t.lastRun = t.cfg.Now()
	t.lastSent = rep.Sent
	t.lastErr = err
	t.mu.Unlock()

	if err != nil {
		t.log.Warn("reminder check failed", logx.String("minute", minute), logx.Int("sent", rep.Sent), logx.Err(err))
	}
	return true
}

// LastError returns the error of the most recent run, nil if it succeeded.
func (t *Trigger) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Trigger) Status() TriggerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TriggerStatus{
		Running:    t.c != nil,
		Schedule:   t.cfg.Schedule,
		LastMinute: t.lastMinute,
		LastRun:    t.lastRun,
		LastSent:   t.lastSent,
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	if t.c != nil {
		st.Next = t.c.Entry(t.entry).Next
	}
	return st
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
