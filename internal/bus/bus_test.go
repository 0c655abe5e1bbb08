package bus

import (
	"testing"
	"time"

	"github.com/towerops/tower/internal/classify"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	events, unsub := b.Subscribe()
	defer unsub()

	b.Publish(classify.Event{Kind: classify.KindError, Target: "api"})

	select {
	case ev := <-events:
		if ev.Kind != classify.KindError {
			t.Errorf("Kind = %q, want error", ev.Kind)
		}
		if ev.Target != "api" {
			t.Errorf("Target = %q, want api", ev.Target)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestSameTargetOrderPreserved(t *testing.T) {
	b := New()
	defer b.Close()

	events, unsub := b.Subscribe()
	defer unsub()

	kinds := []classify.Kind{classify.KindError, classify.KindPermission, classify.KindStalled}
	for _, k := range kinds {
		b.Publish(classify.Event{Kind: k, Target: "api"})
	}

	for i, want := range kinds {
		select {
		case ev := <-events:
			if ev.Kind != want {
				t.Errorf("event %d: Kind = %q, want %q", i, ev.Kind, want)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(classify.Event{Kind: classify.KindStalled})

	for i, ch := range []<-chan classify.Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	events, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-events; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewWithBuffer(1)
	defer b.Close()

	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(classify.Event{Kind: classify.KindNormal})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	b := New()
	events, _ := b.Subscribe()

	b.Publish(classify.Event{Kind: classify.KindError})
	b.Close()

	// The buffered event survives Close; then the channel reports closed.
	if ev, ok := <-events; !ok || ev.Kind != classify.KindError {
		t.Errorf("buffered event lost on close: ok=%v ev=%+v", ok, ev)
	}
	if _, ok := <-events; ok {
		t.Error("expected closed channel after drain")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	b.Close()
	b.Publish(classify.Event{Kind: classify.KindError}) // must not panic
}
