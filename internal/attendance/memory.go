package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"classledger/internal/day"
)

type claimKey struct {
	classKey string
	day      day.Day
}

// MemoryStore is a mutex-guarded ledger for dev/testing with the same
// uniqueness and compare-and-swap rules as the database stores.
type MemoryStore struct {
	mu      sync.RWMutex
	claims  map[claimKey]DayClaim
	records map[Key]Record
}

// NewMemoryStore creates an empty ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[claimKey]DayClaim), records: make(map[Key]Record)}
}

func (m *MemoryStore) ClaimDay(_ context.Context, c DayClaim) (DayClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{c.ClassKey, c.Day}
	if existing, ok := m.claims[k]; ok {
		return existing, ErrClaimExists
	}
	m.claims[k] = c
	return c, nil
}

func (m *MemoryStore) ReclaimDay(_ context.Context, prev, next DayClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{prev.ClassKey, prev.Day}
	cur, ok := m.claims[k]
	if !ok || cur.State != ClaimPending || cur.BatchID != prev.BatchID || !cur.ClaimedAt.Equal(prev.ClaimedAt) {
		return ErrClaimLost
	}
	m.claims[k] = next
	return nil
}

func (m *MemoryStore) CommitDay(_ context.Context, claim DayClaim, records []Record, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{claim.ClassKey, claim.Day}
	cur, ok := m.claims[k]
	if !ok || cur.State != ClaimPending || cur.BatchID != claim.BatchID {
		return ErrClaimLost
	}
	for _, r := range records {
		m.records[r.Key] = r
	}
	cur.State = ClaimComplete
	cur.CompletedAt = &at
	m.claims[k] = cur
	return nil
}

func (m *MemoryStore) GetDay(_ context.Context, classKey string, d day.Day) (DayClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[claimKey{classKey, d}]
	if !ok {
		return DayClaim{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Claims(_ context.Context, classKey string, from, to day.Day) ([]DayClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DayClaim
	for k, c := range m.claims {
		if k.classKey == classKey && !k.day.Before(from) && !to.Before(k.day) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryStore) UpdateStatuses(_ context.Context, updates []StatusUpdate) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Key
	for _, u := range updates {
		cur, ok := m.records[u.Key]
		if !ok {
			continue
		}
		if cur.Status == StatusAbsent && u.Status == StatusPresent {
			cur.Reason = ""
		}
		cur.Status = u.Status
		cur.FacultyID = u.FacultyID
		cur.UpdatedBy = u.UpdatedBy
		cur.UpdatedAt = u.UpdatedAt
		m.records[u.Key] = cur
		matched = append(matched, u.Key)
	}
	return matched, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, k Key) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[k]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Records(_ context.Context, classKey string, d day.Day) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.ClassKey == classKey && r.Day == d }), nil
}

func (m *MemoryStore) ClassRecords(_ context.Context, classKey string, from, to day.Day) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return r.ClassKey == classKey && !r.Day.Before(from) && !to.Before(r.Day)
	}), nil
}

func (m *MemoryStore) StudentRecords(_ context.Context, studentID string, from, to day.Day) ([]Record, error) {
	return m.filter(func(r Record) bool {
		return r.StudentID == studentID && !r.Day.Before(from) && !to.Before(r.Day)
	}), nil
}

func (m *MemoryStore) SetReason(_ context.Context, k Key, reason string, by UpdatedBy, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[k]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != StatusAbsent {
		return ErrNotAbsent
	}
	cur.Reason = reason
	cur.UpdatedBy = by
	cur.UpdatedAt = at
	m.records[k] = cur
	return nil
}

func (m *MemoryStore) SetAction(_ context.Context, k Key, action, facultyID string, by UpdatedBy, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[k]
	if !ok {
		return ErrNotFound
	}
	cur.ActionTaken = action
	cur.FacultyID = facultyID
	cur.UpdatedBy = by
	cur.UpdatedAt = at
	m.records[k] = cur
	return nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].RollNo < out[j].RollNo
	})
	return out
}
