package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestSubscribeRejectsNilHandler(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	if err := bus.Subscribe(JobStatusChanged, nil); err == nil {
		t.Error("expected Subscribe with a nil handler to fail")
	}
}

func TestPublishDispatchesToAllSubscribers(t *testing.T) {
	bus := NewBus(arbor.NewLogger())

	var mu sync.Mutex
	var received []string

	record := func(name string) Handler {
		return func(ctx context.Context, event Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, name)
			return nil
		}
	}

	if err := bus.Subscribe(JobStatusChanged, record("first")); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(JobStatusChanged, record("second")); err != nil {
		t.Fatal(err)
	}

	bus.Publish(context.Background(), Event{
		Type:    JobStatusChanged,
		Payload: StatusChangePayload{JobID: "main-1", JobType: "MAIN", Status: "COMPLETED"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 handlers to run, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishIgnoresUnsubscribedType(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	called := false
	if err := bus.Subscribe(JobStatusChanged, func(ctx context.Context, event Event) error {
		called = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	bus.Publish(context.Background(), Event{Type: JobProgress, Payload: ProgressPayload{JobID: "main-1", Progress: 50}})
	time.Sleep(50 * time.Millisecond)

	if called {
		t.Error("handler subscribed to a different event type must not be invoked")
	}
}

func TestCloseClearsSubscribers(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	called := false
	bus.Subscribe(JobStatusChanged, func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	bus.Close()
	bus.Publish(context.Background(), Event{Type: JobStatusChanged, Payload: StatusChangePayload{}})
	time.Sleep(50 * time.Millisecond)

	if called {
		t.Error("expected no subscribers to run after Close")
	}
}
