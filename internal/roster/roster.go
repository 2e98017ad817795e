package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"classledger/internal/apperr"
)

// StatusActive is the only student status included in rosters.
const StatusActive = "active"

// ErrNotFound is returned by directories for unknown students.
var ErrNotFound = errors.New("student not found")

// Student is a directory entry.
type Student struct {
	ID         string `json:"id" bson:"_id"`
	RollNo     string `json:"roll_no" bson:"rollNo"`
	Name       string `json:"name" bson:"name"`
	Department string `json:"department" bson:"department"`
	Class      `bson:",inline"`
	Status     string `json:"status" bson:"status"`
}

// Directory is the student source of truth.
type Directory interface {
	ActiveStudents(ctx context.Context, class Class, department string) ([]Student, error)
	Student(ctx context.Context, id string) (Student, error)
}

// Roster is the resolved membership of one class in one department.
type Roster struct {
	Class      Class
	Department string
	Students   []Student
	byRoll     map[string]int
}

// Len is the roster size.
func (r Roster) Len() int { return len(r.Students) }

// Empty reports whether nobody is enrolled.
func (r Roster) Empty() bool { return len(r.Students) == 0 }

// Lookup finds a student by roll identifier.
func (r Roster) Lookup(roll string) (Student, bool) {
	i, ok := r.byRoll[NormalizeRoll(roll)]
	if !ok {
		return Student{}, false
	}
	return r.Students[i], true
}

// Resolver turns a class + department into its roster.
type Resolver struct {
	dir Directory
}

// NewResolver wraps a directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the active students of the class. An empty roster is not an
// error here; callers decide how to report it.
func (r *Resolver) Resolve(ctx context.Context, class Class, department string) (Roster, error) {
	if err := ValidateTuple(Tuple{Class: class, Department: department}); err != nil {
		return Roster{}, err
	}
	students, err := r.dir.ActiveStudents(ctx, class, department)
	if err != nil {
		return Roster{}, fmt.Errorf("resolve roster %s: %w", class.Key(), err)
	}
	out := Roster{Class: class, Department: department, byRoll: make(map[string]int, len(students))}
	for _, s := range students {
		if s.Status != "" && s.Status != StatusActive {
			continue
		}
		out.Students = append(out.Students, s)
	}
	sort.Slice(out.Students, func(i, j int) bool {
		return NormalizeRoll(out.Students[i].RollNo) < NormalizeRoll(out.Students[j].RollNo)
	})
	for i, s := range out.Students {
		roll := NormalizeRoll(s.RollNo)
		if roll == "" {
			return Roster{}, apperr.Conflict("student without roll number in roster").WithDetail(s.ID)
		}
		if _, dup := out.byRoll[roll]; dup {
			return Roster{}, apperr.Conflict("duplicate roll number in roster").WithDetail(roll)
		}
		out.byRoll[roll] = i
	}
	return out, nil
}

// Student fetches one student from the directory.
func (r *Resolver) Student(ctx context.Context, id string) (Student, error) {
	s, err := r.dir.Student(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Student{}, apperr.NotFound("student", id)
	}
	return s, err
}
