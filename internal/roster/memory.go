package roster

import (
	"context"
	"sync"
)

// MemoryDirectory is a map-backed directory for dev/testing.
type MemoryDirectory struct {
	mu       sync.RWMutex
	students map[string]Student
}

// NewMemoryDirectory seeds a directory with students.
func NewMemoryDirectory(students ...Student) *MemoryDirectory {
	d := &MemoryDirectory{students: make(map[string]Student)}
	for _, s := range students {
		_ = d.UpsertStudent(context.Background(), s)
	}
	return d
}

func (d *MemoryDirectory) ActiveStudents(_ context.Context, class Class, department string) ([]Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var res []Student
	for _, s := range d.students {
		if s.Class == class && s.Department == department && s.Status == StatusActive {
			res = append(res, s)
		}
	}
	return res, nil
}

func (d *MemoryDirectory) Student(_ context.Context, id string) (Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

// UpsertStudent stores s, defaulting its status to active.
func (d *MemoryDirectory) UpsertStudent(_ context.Context, s Student) error {
	if s.Status == "" {
		s.Status = StatusActive
	}
	d.mu.Lock()
	d.students[s.ID] = s
	d.mu.Unlock()
	return nil
}
