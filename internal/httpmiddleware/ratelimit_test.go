package httpmiddleware

import (
	"testing"
	"time"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatalf("expected capacity to admit two requests")
	}
	if l.allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !l.allow("b") {
		t.Fatalf("keys must not share buckets")
	}
	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Fatalf("expected one token after a second at 60/min")
	}
}

func TestTokenBucketDisabledAtZeroRate(t *testing.T) {
	l := NewSimpleTokenBucket(0, 0)
	if l.Enabled() {
		t.Fatalf("a zero rate must disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !l.allow("a") {
			t.Fatalf("request %d limited by a disabled limiter", i)
		}
	}
	if !NewSimpleTokenBucket(0, -5).allow("a") {
		t.Fatalf("a negative rate must disable the limiter")
	}
}
