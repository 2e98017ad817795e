package roster

import (
	"context"
	"testing"

	"classledger/internal/apperr"
)

var classA = Class{Batch: "2023-2027", Level: "2ndYear", Term: "Sem3", Section: "A"}

func TestClassKeyRoundTrip(t *testing.T) {
	key := classA.Key()
	if key != "2023-2027_2ndYear_Sem3_A" {
		t.Fatalf("unexpected key %s", key)
	}
	parsed, err := ParseKey(key)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if parsed != classA {
		t.Fatalf("expected %+v, got %+v", classA, parsed)
	}
	if _, err := ParseKey("2023_A"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected short key to be invalid, got %v", err)
	}
}

func TestValidateClass(t *testing.T) {
	bad := []Class{
		{Level: "2ndYear", Term: "Sem3", Section: "A"},
		{Batch: "2023_2027", Level: "2ndYear", Term: "Sem3", Section: "A"},
	}
	for _, c := range bad {
		if err := ValidateClass(c); apperr.KindOf(err) != apperr.KindInvalid {
			t.Fatalf("expected %+v to be invalid, got %v", c, err)
		}
	}
	if err := ValidateTuple(Tuple{Class: classA}); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected missing department to be invalid, got %v", err)
	}
	if err := ValidateTuple(Tuple{Class: classA, Department: "CSE"}); err != nil {
		t.Fatalf("expected valid tuple, got %v", err)
	}
}

func TestResolveFiltersAndSorts(t *testing.T) {
	dir := NewMemoryDirectory(
		Student{ID: "s3", RollNo: "r3", Department: "CSE", Class: classA},
		Student{ID: "s1", RollNo: "R1", Department: "CSE", Class: classA},
		Student{ID: "s2", RollNo: "R2", Department: "CSE", Class: classA, Status: "inactive"},
		Student{ID: "s4", RollNo: "R4", Department: "ECE", Class: classA},
		Student{ID: "s5", RollNo: "R5", Department: "CSE", Class: Class{Batch: "2023-2027", Level: "2ndYear", Term: "Sem3", Section: "B"}},
	)
	r, err := NewResolver(dir).Resolve(context.Background(), classA, "CSE")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 active CSE students, got %d", r.Len())
	}
	if r.Students[0].ID != "s1" || r.Students[1].ID != "s3" {
		t.Fatalf("expected roll order s1,s3 got %s,%s", r.Students[0].ID, r.Students[1].ID)
	}
	if s, ok := r.Lookup(" R3 "); !ok || s.ID != "s3" {
		t.Fatalf("expected case-insensitive roll lookup")
	}
	if _, ok := r.Lookup("R2"); ok {
		t.Fatalf("inactive student must not be on the roster")
	}
}

func TestResolveEmptyIsNotAnError(t *testing.T) {
	r, err := NewResolver(NewMemoryDirectory()).Resolve(context.Background(), classA, "CSE")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !r.Empty() {
		t.Fatalf("expected empty roster")
	}
}

func TestResolveRejectsDuplicateRoll(t *testing.T) {
	dir := NewMemoryDirectory(
		Student{ID: "s1", RollNo: "R1", Department: "CSE", Class: classA},
		Student{ID: "s2", RollNo: "r1", Department: "CSE", Class: classA},
	)
	_, err := NewResolver(dir).Resolve(context.Background(), classA, "CSE")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for duplicate roll, got %v", err)
	}
}

func TestResolverStudentNotFound(t *testing.T) {
	_, err := NewResolver(NewMemoryDirectory()).Student(context.Background(), "nope")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
