package bus

import (
	"testing"
	"time"

	"github.com/toka-systems/toka/internal/types"
)

func makeEvent(seq uint64) types.KernelEvent {
	return types.KernelEvent{Kind: types.EventObservationEmitted, Sequence: seq, Timestamp: time.Now()}
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(8)
	ch := b.Subscribe("a")

	for i := uint64(0); i < 5; i++ {
		b.Publish(makeEvent(i))
	}

	for i := uint64(0); i < 5; i++ {
		env := <-ch
		if env.Event.Sequence != i {
			t.Fatalf("expected sequence %d, got %d", i, env.Event.Sequence)
		}
		if env.LagSkipped != 0 {
			t.Fatalf("expected no lag, got %d", env.LagSkipped)
		}
	}
}

func TestSlowSubscriberLagsWithoutBlockingFastOnes(t *testing.T) {
	b := New(4)
	fast := b.Subscribe("fast")
	slow := b.Subscribe("slow")

	const total = 20
	for i := uint64(0); i < total; i++ {
		b.Publish(makeEvent(i))
	}

	received := 0
	for i := 0; i < total; i++ {
		select {
		case <-fast:
			received++
		default:
		}
	}
	if received == 0 {
		t.Fatal("fast subscriber received nothing")
	}

	var sawLag bool
	drained := 0
	for {
		select {
		case env := <-slow:
			drained++
			if env.LagSkipped > 0 {
				sawLag = true
			}
		default:
			goto done
		}
	}
done:
	if !sawLag {
		t.Fatal("expected slow subscriber to observe a Lagged signal")
	}
	if drained == 0 {
		t.Fatal("slow subscriber received nothing at all")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	ch := b.Subscribe("a")
	b.Unsubscribe("a")

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}
