package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	b.Publish(Event{Type: "reminder.sent"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != "reminder.sent" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "reminder.failed"})
	if e := <-c; e.Type != "reminder.failed" {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected buffered event %q", e.Type)
	default:
	}
}
