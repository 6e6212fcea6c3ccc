package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	matches, unsubMatches := b.Subscribe(4, TypeMatchCompleted)
	defer unsubMatches()

	b.Publish(Event{Type: TypeDeliveryDone})
	b.Publish(Event{Type: TypeMatchCompleted, Data: "NA1_102"})

	if len(all) != 2 {
		t.Fatalf("all subscriber got %d events, want 2", len(all))
	}
	if len(matches) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(matches))
	}
	e := <-matches
	if e.Data != "NA1_102" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypePollFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if Dropped(b) != 9 {
		t.Fatalf("dropped = %d, want 9", Dropped(b))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: TypePollFailed})
}
