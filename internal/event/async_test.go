package event

import (
	"sync"
	"testing"
	"time"
)

func TestAsyncPublisher_DeliversInOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []int
	On(bus, TypePackageStarted, func(e PackageStartedEvent) {
		mu.Lock()
		got = append(got, e.Index)
		mu.Unlock()
	})

	pub := NewAsyncPublisher(bus)
	for i := 1; i <= 100; i++ {
		pub.Publish(NewPackageStartedEvent("p", i, 100, 1))
	}
	pub.Close()

	if len(got) != 100 {
		t.Fatalf("delivered %d events, want 100", len(got))
	}
	for i, idx := range got {
		if idx != i+1 {
			t.Fatalf("got[%d] = %d, want %d", i, idx, i+1)
		}
	}
}

func TestAsyncPublisher_DoesNotBlockOnSlowHandler(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.SubscribeAll(func(e Event) { <-release })

	pub := NewAsyncPublisher(bus)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			pub.Publish(NewPackageStartedEvent("p", i, 50, 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow handler")
	}

	close(release)
	pub.Close()
}

func TestAsyncPublisher_CloseIsIdempotent(t *testing.T) {
	pub := NewAsyncPublisher(NewBus())
	pub.Close()
	pub.Close()
	pub.Publish(NewPackageStartedEvent("late", 1, 1, 1)) // dropped, must not panic
}
