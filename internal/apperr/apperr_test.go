package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("mark: %w", UnknownRollNumber("R9"))
	if got := KindOf(err); got != KindUnknownRollNumber {
		t.Fatalf("expected UnknownRollNumber, got %q", got)
	}
	e, ok := As(err)
	if !ok || e.Detail != "R9" {
		t.Fatalf("expected detail R9, got %+v", e)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no kind")
	}
}

func TestIsMatchesKindAndCode(t *testing.T) {
	err := OnlyTodayAllowed("2024-01-01")
	if !errors.Is(err, New(KindPolicyViolation, "")) {
		t.Fatalf("expected kind match without code")
	}
	if !errors.Is(err, New(KindPolicyViolation, "").WithCode("onlyTodayAllowed")) {
		t.Fatalf("expected code match")
	}
	if errors.Is(err, New(KindPolicyViolation, "").WithCode("other")) {
		t.Fatalf("different code must not match")
	}
	if errors.Is(err, New(KindNotFound, "")) {
		t.Fatalf("different kind must not match")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindConflict, errors.New("boom"), "write failed")
	want := "Conflict: write failed: boom"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
