package eventbus

import "testing"

func TestPublishFanOutAndDrop(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeSent})
	b.Publish(Event{Type: TypeFailed})

	if e := <-a; e.Type != TypeSent || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if e := <-c; e.Type != TypeSent {
		t.Fatalf("c got %+v", e)
	}
	if e := <-c; e.Type != TypeFailed {
		t.Fatalf("c got %+v", e)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TypeSent})
}
