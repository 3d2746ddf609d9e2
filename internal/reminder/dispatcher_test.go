package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"habitbot/internal/eventbus"
	"habitbot/internal/habit"
	"habitbot/internal/notifier"
)

type memStore struct {
	mu      sync.Mutex
	habits  []habit.Habit
	chats   map[int64]string
	ledger  map[string]bool
	logged  []habit.ReminderLogEntry
	listErr error
}

func newMemStore(hs ...habit.Habit) *memStore {
	return &memStore{habits: hs, chats: map[int64]string{}, ledger: map[string]bool{}}
}

func ledgerKey(id int64, sentAt string) string {
	return fmt.Sprintf("%d|%s", id, sentAt)
}

func (s *memStore) ListActiveHabits(context.Context) ([]habit.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]habit.Habit(nil), s.habits...), nil
}

func (s *memStore) WasReminderSent(_ context.Context, id int64, sentAt string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger[ledgerKey(id, sentAt)], nil
}

func (s *memStore) LogReminderSent(_ context.Context, id int64, sentAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledgerKey(id, sentAt)
	if !s.ledger[k] {
		s.ledger[k] = true
		s.logged = append(s.logged, habit.ReminderLogEntry{HabitID: id, SentAt: sentAt})
	}
	return nil
}

func (s *memStore) ChatIDForHabit(_ context.Context, id int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	return c, ok && c != "", nil
}

type sentMsg struct{ to, text string }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMsg
	// failFor makes Send fail for these recipients.
	failFor map[string]bool
}

func (n *fakeNotifier) Send(_ context.Context, to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[to] {
		return &notifier.DeliveryError{Recipient: to, Description: "Bad Request: chat not found"}
	}
	n.sent = append(n.sent, sentMsg{to: to, text: text})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var testNow = time.Date(2024, 6, 1, 21, 37, 12, 0, time.UTC)

func newTestDispatcher(st Store, n Notifier, opt Options) *Dispatcher {
	opt.Location = time.UTC
	if opt.Now == nil {
		opt.Now = func() time.Time { return testNow }
	}
	return NewDispatcher(st, n, opt)
}

func active(id int64, name, at string) habit.Habit {
	return habit.Habit{ID: id, Name: name, ReminderTime: at, Active: true}
}

func TestRunDeduplicatesWithinMinute(t *testing.T) {
	st := newMemStore(active(1, "Stretch", "21:37"))
	st.chats[1] = "555"
	n := &fakeNotifier{}
	d := newTestDispatcher(st, n, Options{})

	for i, want := range []int{1, 0} {
		rep, err := d.Run(context.Background(), "21:37")
		if err != nil {
			t.Fatalf("run #%d: %v", i+1, err)
		}
		if rep.Sent != want {
			t.Fatalf("run #%d sent = %d, want %d", i+1, rep.Sent, want)
		}
	}
	if len(st.logged) != 1 || st.logged[0].SentAt != "2024-06-01 21:37" {
		t.Fatalf("ledger = %+v", st.logged)
	}
	if n.count() != 1 {
		t.Fatalf("notifications = %d, want 1", n.count())
	}
}

func TestRunUsesWallClockMinute(t *testing.T) {
	st := newMemStore(active(1, "Stretch", "21:37"), active(2, "Sleep", "21:38"))
	st.chats[1], st.chats[2] = "555", "555"
	n := &fakeNotifier{}
	d := newTestDispatcher(st, n, Options{})

	rep, err := d.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 1 || rep.Clock != "21:37" || rep.Simulated {
		t.Fatalf("report = %+v", rep)
	}
	if rep.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestRunMatchesExactMinute(t *testing.T) {
	tests := []struct {
		at   string
		want int
	}{
		{"09:00", 1},
		{"09:01", 0},
		{"08:59", 0},
	}
	for _, tt := range tests {
		t.Run(tt.at, func(t *testing.T) {
			st := newMemStore(active(1, "Read", "09:00"))
			st.chats[1] = "555"
			d := newTestDispatcher(st, &fakeNotifier{}, Options{})
			rep, err := d.Run(context.Background(), tt.at)
			if err != nil {
				t.Fatalf("Run(%q): %v", tt.at, err)
			}
			if rep.Sent != tt.want {
				t.Fatalf("Run(%q) sent = %d, want %d", tt.at, rep.Sent, tt.want)
			}
		})
	}
}

func TestRunRejectsInvalidOverride(t *testing.T) {
	for _, at := range []string{"25:00", "9:00", "09:60", "0900", "ab:cd"} {
		t.Run(at, func(t *testing.T) {
			st := newMemStore(active(1, "Read", "09:00"))
			st.chats[1] = "555"
			n := &fakeNotifier{}
			d := newTestDispatcher(st, n, Options{})
			_, err := d.Run(context.Background(), at)
			if !errors.Is(err, habit.ErrInvalidTimeFormat) {
				t.Fatalf("Run(%q) err = %v, want ErrInvalidTimeFormat", at, err)
			}
			if n.count() != 0 || len(st.logged) != 0 {
				t.Fatalf("side effects on invalid override")
			}
		})
	}
}

func TestRunWithoutRecipientSkipsSilently(t *testing.T) {
	st := newMemStore(active(1, "Read", "09:00"))
	n := &fakeNotifier{}
	d := newTestDispatcher(st, n, Options{})

	rep, err := d.Run(context.Background(), "09:00")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 0 || n.count() != 0 || len(st.logged) != 0 {
		t.Fatalf("sent = %d, notifications = %d, ledger = %d", rep.Sent, n.count(), len(st.logged))
	}
	if len(rep.Outcomes) != 1 || rep.Outcomes[0].Status != StatusNoRecipient {
		t.Fatalf("outcomes = %+v", rep.Outcomes)
	}
}

func TestRunFallsBackToDefaultRecipient(t *testing.T) {
	st := newMemStore(active(1, "Read", "09:00"), active(2, "Walk", "09:00"))
	st.chats[2] = "777"
	n := &fakeNotifier{}
	d := newTestDispatcher(st, n, Options{DefaultRecipient: " @ops "})

	rep, err := d.Run(context.Background(), "09:00")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 2 {
		t.Fatalf("sent = %d, want 2", rep.Sent)
	}
	if n.sent[0].to != "@ops" || n.sent[1].to != "777" {
		t.Fatalf("recipients = %+v", n.sent)
	}

	d.SetDefaultRecipient("")
	rep, err = d.Run(context.Background(), "09:00")
	if err != nil || rep.Sent != 0 {
		t.Fatalf("second run sent = %d, err = %v", rep.Sent, err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	st := newMemStore(active(10, "Read", "09:00"))
	st.chats[10] = "555"
	n := &fakeNotifier{}
	d := newTestDispatcher(st, n, Options{})

	rep, err := d.Run(context.Background(), "09:00")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 1 {
		t.Fatalf("sent = %d", rep.Sent)
	}
	if len(st.logged) != 1 || st.logged[0] != (habit.ReminderLogEntry{HabitID: 10, SentAt: "2024-06-01 09:00"}) {
		t.Fatalf("ledger = %+v", st.logged)
	}
	if len(n.sent) != 1 || n.sent[0].to != "555" {
		t.Fatalf("sent = %+v", n.sent)
	}
	if txt := n.sent[0].text; !strings.Contains(txt, "Read") || !strings.Contains(txt, "09:00") {
		t.Fatalf("message = %q", txt)
	}
}

func TestRunSkipsInactive(t *testing.T) {
	h := active(1, "Read", "09:00")
	h.Active = false
	st := newMemStore(h)
	st.chats[1] = "555"
	d := newTestDispatcher(st, &fakeNotifier{}, Options{})
	rep, err := d.Run(context.Background(), "09:00")
	if err != nil || rep.Sent != 0 {
		t.Fatalf("sent = %d, err = %v", rep.Sent, err)
	}
}

func TestRunNormalizesStoredTime(t *testing.T) {
	st := newMemStore(active(1, "Read", "9:00"))
	st.chats[1] = "555"
	d := newTestDispatcher(st, &fakeNotifier{}, Options{})
	rep, err := d.Run(context.Background(), "09:00")
	if err != nil || rep.Sent != 1 {
		t.Fatalf("sent = %d, err = %v", rep.Sent, err)
	}
}

func TestRunMalformedStoredTime(t *testing.T) {
	hs := []habit.Habit{active(1, "Broken", "nine"), active(2, "Read", "09:00")}

	t.Run("abort", func(t *testing.T) {
		st := newMemStore(hs...)
		st.chats[2] = "555"
		n := &fakeNotifier{}
		d := newTestDispatcher(st, n, Options{})
		rep, err := d.Run(context.Background(), "09:00")
		if !errors.Is(err, habit.ErrInvalidTimeFormat) {
			t.Fatalf("err = %v, want ErrInvalidTimeFormat", err)
		}
		if n.count() != 0 || len(rep.Failed()) != 1 {
			t.Fatalf("notifications = %d, outcomes = %+v", n.count(), rep.Outcomes)
		}
	})

	t.Run("continue", func(t *testing.T) {
		st := newMemStore(hs...)
		st.chats[2] = "555"
		n := &fakeNotifier{}
		d := newTestDispatcher(st, n, Options{OnError: PolicyContinue})
		rep, err := d.Run(context.Background(), "09:00")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if rep.Sent != 1 || len(rep.Failed()) != 1 || rep.Failed()[0].HabitID != 1 {
			t.Fatalf("report = %+v", rep)
		}
	})
}

func TestRunDeliveryFailure(t *testing.T) {
	hs := []habit.Habit{active(1, "Read", "09:00"), active(2, "Walk", "09:00")}

	t.Run("abort", func(t *testing.T) {
		st := newMemStore(hs...)
		st.chats[1], st.chats[2] = "bad", "555"
		n := &fakeNotifier{failFor: map[string]bool{"bad": true}}
		d := newTestDispatcher(st, n, Options{})

		rep, err := d.Run(context.Background(), "09:00")
		var de *notifier.DeliveryError
		if !errors.As(err, &de) {
			t.Fatalf("err = %v, want DeliveryError", err)
		}
		if !strings.Contains(err.Error(), `"Read"`) || !strings.Contains(err.Error(), "09:00") || !strings.Contains(err.Error(), "chat not found") {
			t.Fatalf("error lacks context: %v", err)
		}
		if rep.Sent != 0 || n.count() != 0 || len(st.logged) != 0 {
			t.Fatalf("run continued after failure: %+v", rep)
		}
	})

	t.Run("continue", func(t *testing.T) {
		st := newMemStore(hs...)
		st.chats[1], st.chats[2] = "bad", "555"
		n := &fakeNotifier{failFor: map[string]bool{"bad": true}}
		d := newTestDispatcher(st, n, Options{})
		d.SetPolicy(PolicyContinue)

		rep, err := d.Run(context.Background(), "09:00")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if rep.Sent != 1 || len(st.logged) != 1 || st.logged[0].HabitID != 2 {
			t.Fatalf("report = %+v, ledger = %+v", rep, st.logged)
		}
		failed := rep.Failed()
		if len(failed) != 1 || failed[0].Recipient != "bad" || failed[0].Error == "" {
			t.Fatalf("failed = %+v", failed)
		}

		// the failed habit is retried by the next run in the same minute
		n.failFor = nil
		rep, err = d.Run(context.Background(), "09:00")
		if err != nil || rep.Sent != 1 {
			t.Fatalf("retry sent = %d, err = %v", rep.Sent, err)
		}
	})
}

func TestRunStoreErrorAborts(t *testing.T) {
	st := newMemStore()
	st.listErr = errors.New("disk I/O error")
	d := newTestDispatcher(st, &fakeNotifier{}, Options{OnError: PolicyContinue})
	if _, err := d.Run(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunPublishesEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	st := newMemStore(active(1, "Read", "09:00"), active(2, "Walk", "09:00"))
	st.chats[1] = "555"
	d := newTestDispatcher(st, &fakeNotifier{}, Options{Bus: bus})
	if _, err := d.Run(context.Background(), "09:00"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != EventSent || types[1] != EventSkipped {
		t.Fatalf("events = %v", types)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyAbort, false},
		{"ABORT", PolicyAbort, false},
		{"continue", PolicyContinue, false},
		{"skip", PolicyContinue, false},
		{"retry", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestMessage(t *testing.T) {
	if got := Message("Read", "09:00"); got != "Reminder: Read (time 09:00)" {
		t.Fatalf("Message = %q", got)
	}
}
