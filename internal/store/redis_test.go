package store

import (
	"context"
	"testing"
)

func TestNewRedisFailsWhenUnreachable(t *testing.T) {
	r, err := NewRedis(context.Background(), "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected a connect error")
	}
	if r != nil {
		t.Fatalf("expected no client on failure, got %+v", r)
	}
}

func TestNilRedisIsUnhealthy(t *testing.T) {
	var r *Redis
	if r.Healthy(context.Background()) {
		t.Fatalf("nil redis must report unhealthy")
	}
}
