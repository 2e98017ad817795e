package advisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"classledger/internal/roster"
)

// MemoryStore is a mutex-guarded Store for dev/testing. It enforces the
// one-active-per-tuple rule the way the partial unique index does.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[string]Assignment
	faculty     map[string]Faculty
}

// NewMemoryStore seeds a store with faculty records.
func NewMemoryStore(faculty ...Faculty) *MemoryStore {
	m := &MemoryStore{assignments: make(map[string]Assignment), faculty: make(map[string]Faculty)}
	for _, f := range faculty {
		_ = m.UpsertFaculty(context.Background(), f)
	}
	return m
}

// UpsertFaculty stores the profile fields and keeps any existing cache.
func (m *MemoryStore) UpsertFaculty(_ context.Context, f Faculty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.faculty[f.ID]; ok {
		f.Assignments, f.CacheVersion = cur.Assignments, cur.CacheVersion
	}
	m.faculty[f.ID] = f
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Active {
		for _, cur := range m.assignments {
			if cur.Active && cur.Tuple == a.Tuple {
				return ErrActiveExists
			}
		}
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *MemoryStore) FindActive(_ context.Context, t roster.Tuple) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.Active && a.Tuple == t {
			return a, nil
		}
	}
	return Assignment{}, ErrNotFound
}

func (m *MemoryStore) Get(_ context.Context, id string) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) Deactivate(_ context.Context, id, by string, at time.Time) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	if !a.Active {
		return Assignment{}, ErrInactive
	}
	a.Active = false
	a.DeactivatedDate = &at
	a.DeactivatedBy = by
	m.assignments[id] = a
	return a, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	delete(m.assignments, id)
	return a, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if f.match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedDate.Equal(out[j].AssignedDate) {
			return out[i].AssignedDate.After(out[j].AssignedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Faculty(_ context.Context, id string) (Faculty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.faculty[id]
	if !ok {
		return Faculty{}, ErrNotFound
	}
	f.Assignments = append([]CacheEntry(nil), f.Assignments...)
	return f, nil
}

func (m *MemoryStore) FacultyIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.faculty))
	for id := range m.faculty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) SaveCache(_ context.Context, facultyID string, entries []CacheEntry, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.faculty[facultyID]
	if !ok {
		return ErrNotFound
	}
	if f.CacheVersion != version {
		return ErrCacheConflict
	}
	f.Assignments = append([]CacheEntry(nil), entries...)
	f.CacheVersion++
	m.faculty[facultyID] = f
	return nil
}

