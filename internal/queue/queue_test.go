package queue

import (
	"context"
	"testing"
	"time"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg := deserialize(serialize(Message{Type: TypeReconcile, Body: []byte("f|1")}))
	if msg.Type != TypeReconcile || string(msg.Body) != "f|1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg := deserialize("bare"); msg.Type != "" || string(msg.Body) != "bare" {
		t.Fatalf("unexpected untyped message %+v", msg)
	}
}

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, Message{Type: TypeReconcile, Body: []byte("f1")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, Message{Type: TypeReconcile, Body: []byte("f2")}); err == nil {
		t.Fatalf("expected full queue to fail fast")
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if string(msg.Body) != "f1" {
			t.Fatalf("unexpected body %q", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatalf("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop")
	}
}
