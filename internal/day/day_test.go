package day

import (
	"testing"
	"time"

	"classledger/internal/apperr"
)

const ist = 5*time.Hour + 30*time.Minute

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNormalizeSameCivilDay(t *testing.T) {
	n := NewNormalizer(ist, nil)
	inputs := []string{
		"2024-03-05",
		"2024-03-05T00:00:00+05:30",
		"2024-03-04T18:30:00Z", // 00:00 IST
		"2024-03-05T18:29:59Z", // 23:59:59 IST
		"2024-03-05T09:15:00.123Z",
		"2024-03-05T10:00:00",
		"2024-03-05 23:59:59",
		"2024-03-05T07:00:00-08:00", // 20:30 IST
		"  2024-03-05T12:00  ",
	}
	for _, in := range inputs {
		got, err := n.Normalize(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if got != "2024-03-05" {
			t.Fatalf("normalize %q: expected 2024-03-05, got %s", in, got)
		}
	}
}

func TestNormalizeCrossesBoundary(t *testing.T) {
	n := NewNormalizer(ist, nil)
	cases := map[string]Day{
		"2024-03-04T18:29:59Z": "2024-03-04",
		"2024-03-05T18:30:00Z": "2024-03-06",
	}
	for in, want := range cases {
		got, err := n.Normalize(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %s, got %s", in, want, got)
		}
	}
}

func TestNormalizeIgnoresProcessZone(t *testing.T) {
	orig := time.Local
	defer func() { time.Local = orig }()

	instant := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC) // 01:30 IST on the 5th
	var seen []Day
	for _, zone := range []*time.Location{time.UTC, time.FixedZone("PST", -8*3600), time.FixedZone("JST", 9*3600)} {
		time.Local = zone
		n := NewNormalizer(ist, fixedClock(instant.In(zone)))
		seen = append(seen, n.Today())
	}
	for _, d := range seen {
		if d != "2024-03-05" {
			t.Fatalf("expected 2024-03-05 from every process zone, got %v", seen)
		}
	}
}

func TestNormalizeEmptyMeansToday(t *testing.T) {
	n := NewNormalizer(ist, fixedClock(time.Date(2024, 3, 5, 19, 0, 0, 0, time.UTC)))
	got, err := n.Normalize("")
	if err != nil {
		t.Fatalf("normalize empty: %v", err)
	}
	if got != "2024-03-06" {
		t.Fatalf("expected 2024-03-06, got %s", got)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	n := NewNormalizer(ist, nil)
	for _, in := range []string{"yesterday", "2024-13-01", "05/03/2024", "2024-02-30"} {
		_, err := n.Normalize(in)
		if apperr.KindOf(err) != apperr.KindInvalidDate {
			t.Fatalf("normalize %q: expected InvalidDate, got %v", in, err)
		}
	}
}

func TestRequireToday(t *testing.T) {
	n := NewNormalizer(ist, fixedClock(time.Date(2024, 3, 5, 4, 0, 0, 0, time.UTC)))
	if _, err := n.RequireToday("2024-03-05T01:00:00Z"); err != nil {
		t.Fatalf("expected today to pass, got %v", err)
	}
	_, err := n.RequireToday("2024-03-04")
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindPolicyViolation || e.Code != "onlyTodayAllowed" {
		t.Fatalf("expected onlyTodayAllowed, got %v", err)
	}
}

func TestRange(t *testing.T) {
	n := NewNormalizer(ist, nil)
	days, err := n.Range("2024-02-28", "2024-03-02", 31)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []Day{"2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}
	if len(days) != len(want) {
		t.Fatalf("expected %v, got %v", want, days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, days)
		}
	}
	if _, err := n.Range("2024-03-02", "2024-03-01", 31); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected reversed range to be invalid, got %v", err)
	}
	if _, err := n.Range("2024-01-01", "2024-12-31", 31); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected oversized range to be invalid, got %v", err)
	}
}

func TestParseOffset(t *testing.T) {
	cases := map[string]time.Duration{
		"+05:30": ist,
		"-0800":  -8 * time.Hour,
		"+7":     7 * time.Hour,
		"Z":      0,
		"":       0,
	}
	for in, want := range cases {
		got, err := ParseOffset(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}
	if _, err := ParseOffset("+25:00"); err == nil {
		t.Fatalf("expected out-of-range offset to fail")
	}
}
