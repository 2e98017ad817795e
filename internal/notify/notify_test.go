package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHubDeliversOnlyToRecipient(t *testing.T) {
	hub := NewHub(4, nil)
	a := hub.Subscribe("s1")
	defer a.Close()
	b := hub.Subscribe("s2")
	defer b.Close()

	if n := hub.Deliver(Event{Recipient: "s1", Day: "2024-03-05", Status: "Absent"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	select {
	case evt := <-a.C:
		if evt.Status != "Absent" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatalf("expected event for s1")
	}
	select {
	case evt := <-b.C:
		t.Fatalf("s2 must not receive %+v", evt)
	default:
	}
}

func TestHubFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("s1")
	defer sub.Close()
	hub.Deliver(Event{Recipient: "s1"})
	done := make(chan struct{})
	go func() {
		hub.Deliver(Event{Recipient: "s1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deliver blocked on a full subscriber")
	}
}

func TestCloseAllEndsSessions(t *testing.T) {
	hub := NewHub(1, nil)
	a := hub.Subscribe("s1")
	b := hub.Subscribe("s2")
	hub.CloseAll()
	if _, ok := <-a.C; ok {
		t.Fatalf("expected s1 channel to be closed")
	}
	if _, ok := <-b.C; ok {
		t.Fatalf("expected s2 channel to be closed")
	}
	a.Close()
	if hub.Count("s1")+hub.Count("s2") != 0 {
		t.Fatalf("expected no sessions after CloseAll")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("s1")
	sub.Close()
	sub.Close()
	if hub.Count("s1") != 0 {
		t.Fatalf("expected no sessions after close")
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
	if n := hub.Deliver(Event{Recipient: "s1"}); n != 0 {
		t.Fatalf("expected no delivery after disconnect, got %d", n)
	}
}

func TestHubConcurrentSubscribeDeliver(t *testing.T) {
	hub := NewHub(8, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("s1")
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			hub.Deliver(Event{Recipient: "s1"})
		}()
	}
	wg.Wait()
	if hub.Count("s1") != 0 {
		t.Fatalf("expected all sessions closed")
	}
}

type failingPublisher struct{ calls chan struct{} }

func (f *failingPublisher) Publish(context.Context, []Event) error {
	f.calls <- struct{}{}
	return errors.New("sink down")
}

type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ []Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	pub := &failingPublisher{calls: make(chan struct{}, 1)}
	d := NewDispatcher(pub, time.Second, nil)
	d.Notify(context.Background(), []Event{{Recipient: "s1"}})
	d.Wait()
	select {
	case <-pub.calls:
	default:
		t.Fatalf("expected publisher to be called")
	}
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	d := NewDispatcher(blockingPublisher{}, 50*time.Millisecond, nil)
	start := time.Now()
	d.Notify(context.Background(), []Event{{Recipient: "s1"}})
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("notify blocked the caller")
	}
	d.Wait()
}

func TestDispatcherSurvivesCancelledRequest(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.Subscribe("s1")
	defer sub.Close()
	d := NewDispatcher(NewLocal(hub), time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Notify(ctx, []Event{{Recipient: "s1", Status: "Present"}})
	d.Wait()
	select {
	case evt := <-sub.C:
		if evt.Status != "Present" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatalf("expected delivery after request context ended")
	}
}
