package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "habitbot/pkg/logx"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Run(ctx context.Context, override string) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if override != "" {
		return Report{}, errors.New("trigger must not override the clock")
	}
	if _, ok := ctx.Deadline(); !ok {
		return Report{}, errors.New("run context has no deadline")
	}
	return Report{Sent: 1}, r.err
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTrigger(t *testing.T, r Runner, clk *manualClock) *Trigger {
	t.Helper()
	tr, err := NewTrigger(r, TriggerConfig{Location: time.UTC, Now: clk.Now}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTrigger: %v", err)
	}
	return tr
}

func TestTickOncePerMinute(t *testing.T) {
	clk := &manualClock{now: time.Date(2024, 6, 1, 9, 0, 5, 0, time.UTC)}
	r := &countingRunner{}
	tr := newTestTrigger(t, r, clk)

	if !tr.Tick(context.Background()) {
		t.Fatal("first tick did not run")
	}
	clk.Advance(30 * time.Second)
	if tr.Tick(context.Background()) {
		t.Fatal("second tick in the same minute ran")
	}
	clk.Advance(30 * time.Second)
	if !tr.Tick(context.Background()) {
		t.Fatal("tick in the next minute did not run")
	}
	if r.calls != 2 {
		t.Fatalf("runner calls = %d, want 2", r.calls)
	}

	st := tr.Status()
	if st.LastMinute != "2024-06-01 09:01" || st.LastSent != 1 || st.LastError != "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestTickKeepsLastError(t *testing.T) {
	clk := &manualClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	r := &countingRunner{err: errors.New("chat not found")}
	tr := newTestTrigger(t, r, clk)

	tr.Tick(context.Background())
	if err := tr.LastError(); err == nil || err.Error() != "chat not found" {
		t.Fatalf("LastError = %v", err)
	}

	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()
	clk.Advance(time.Minute)
	tr.Tick(context.Background())
	if err := tr.LastError(); err != nil {
		t.Fatalf("LastError after recovery = %v", err)
	}
}

func TestNewTriggerRejectsBadSchedule(t *testing.T) {
	if _, err := NewTrigger(&countingRunner{}, TriggerConfig{Schedule: "every minute"}, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := ValidateSchedule("@every 30s"); err != nil {
		t.Fatalf("ValidateSchedule: %v", err)
	}
	if err := ValidateSchedule("*/5 * * * *"); err != nil {
		t.Fatalf("ValidateSchedule: %v", err)
	}
}

func TestTriggerStartStop(t *testing.T) {
	clk := &manualClock{now: time.Now()}
	tr := newTestTrigger(t, &countingRunner{}, clk)

	tr.Start(context.Background())
	tr.Start(context.Background())
	st := tr.Status()
	if !st.Running || st.Schedule != DefaultSchedule || st.Next.IsZero() {
		t.Fatalf("status after start = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr.Stop(ctx)
	if tr.Status().Running {
		t.Fatal("still running after Stop")
	}
}
