package advisor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"classledger/internal/metrics"
	"classledger/internal/queue"
)

// Publisher hands reconcile work to the background worker.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

const cacheWriteAttempts = 5

// EntryFor describes an active assignment as a cache entry.
func EntryFor(a Assignment) CacheEntry {
	return CacheEntry{
		AssignmentID: a.ID,
		ClassKey:     a.Key(),
		Department:   a.Department,
		Batch:        a.Batch,
		Level:        a.Level,
		Term:         a.Term,
		Section:      a.Section,
		AssignedDate: a.AssignedDate,
		AssignedBy:   a.AssignedBy,
		Notes:        a.Notes,
	}
}

// ApplyAssign drops any entry for a's tuple and adds a fresh one.
func ApplyAssign(entries []CacheEntry, a Assignment) []CacheEntry {
	out := make([]CacheEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.Tuple() != a.Tuple {
			out = append(out, e)
		}
	}
	out = append(out, EntryFor(a))
	sortEntries(out)
	return out
}

// ApplyRemoval drops the entry for one assignment instance.
func ApplyRemoval(entries []CacheEntry, assignmentID string) []CacheEntry {
	out := make([]CacheEntry, 0, len(entries))
	for _, e := range entries {
		if e.AssignmentID != assignmentID {
			out = append(out, e)
		}
	}
	return out
}

// Derive computes the cache a faculty should hold from their active
// assignments.
func Derive(active []Assignment) []CacheEntry {
	out := make([]CacheEntry, 0, len(active))
	for _, a := range active {
		if a.Active {
			out = append(out, EntryFor(a))
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Department != entries[j].Department {
			return entries[i].Department < entries[j].Department
		}
		if entries[i].ClassKey != entries[j].ClassKey {
			return entries[i].ClassKey < entries[j].ClassKey
		}
		return entries[i].AssignmentID < entries[j].AssignmentID
	})
}

// sameEntries compares caches by content, ignoring order.
func sameEntries(a, b []CacheEntry) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]CacheEntry, len(a))
	for _, e := range a {
		index[e.AssignmentID] = e
	}
	for _, e := range b {
		got, ok := index[e.AssignmentID]
		if !ok || got.ClassKey != e.ClassKey || got.Department != e.Department ||
			!got.AssignedDate.Equal(e.AssignedDate) || got.AssignedBy != e.AssignedBy || got.Notes != e.Notes {
			return false
		}
	}
	return true
}

// Synchronizer keeps each faculty's embedded cache in step with assignment
// state. Writes are version-checked; failures fall back to the reconcile
// queue and the worker's periodic sweep.
type Synchronizer struct {
	store Store
	queue Publisher
	log   *zap.Logger
}

// NewSynchronizer wires a synchronizer. A nil queue disables deferred
// reconciliation.
func NewSynchronizer(store Store, q Publisher, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{store: store, queue: q, log: log}
}

// AfterAssign moves the tuple's entry from the replaced faculty to the new
// one.
func (s *Synchronizer) AfterAssign(ctx context.Context, a Assignment, replaced *Assignment) {
	s.apply(ctx, a.FacultyID, func(ctx context.Context, entries []CacheEntry) ([]CacheEntry, error) {
		// A concurrent assign may already have replaced a; only add the
		// entry while the instance is still active.
		cur, err := s.store.Get(ctx, a.ID)
		if errors.Is(err, ErrNotFound) {
			return ApplyRemoval(entries, a.ID), nil
		}
		if err != nil {
			return nil, err
		}
		if !cur.Active {
			return ApplyRemoval(entries, a.ID), nil
		}
		return ApplyAssign(entries, cur), nil
	})
	if replaced != nil && replaced.FacultyID != a.FacultyID {
		s.AfterRemoval(ctx, *replaced)
	}
}

// AfterRemoval drops a deactivated or deleted instance from its faculty.
func (s *Synchronizer) AfterRemoval(ctx context.Context, a Assignment) {
	s.apply(ctx, a.FacultyID, func(_ context.Context, entries []CacheEntry) ([]CacheEntry, error) {
		return ApplyRemoval(entries, a.ID), nil
	})
}

type mutation func(ctx context.Context, entries []CacheEntry) ([]CacheEntry, error)

func (s *Synchronizer) apply(ctx context.Context, facultyID string, mutate mutation) {
	err := s.update(ctx, facultyID, mutate)
	if err == nil {
		return
	}
	s.log.Warn("faculty cache update failed, scheduling reconcile",
		zap.String("faculty_id", facultyID), zap.Error(err))
	s.Enqueue(ctx, facultyID)
}

// update reads the version before the mutation so any state the mutation
// reads is at least as new as the cache it replaces.
func (s *Synchronizer) update(ctx context.Context, facultyID string, mutate mutation) error {
	for attempt := 0; attempt < cacheWriteAttempts; attempt++ {
		f, err := s.store.Faculty(ctx, facultyID)
		if err != nil {
			return err
		}
		next, err := mutate(ctx, f.Assignments)
		if err != nil {
			return err
		}
		err = s.store.SaveCache(ctx, facultyID, next, f.CacheVersion)
		if !errors.Is(err, ErrCacheConflict) {
			return err
		}
	}
	return ErrCacheConflict
}

// Enqueue schedules a background rebuild. Failures are logged; the periodic
// sweep is the backstop.
func (s *Synchronizer) Enqueue(ctx context.Context, facultyID string) {
	if s.queue == nil {
		return
	}
	err := s.queue.Publish(context.WithoutCancel(ctx), queue.Message{Type: queue.TypeReconcile, Body: []byte(facultyID)})
	if err != nil {
		s.log.Error("enqueue faculty reconcile failed", zap.String("faculty_id", facultyID), zap.Error(err))
	}
}

// Rebuild overwrites the faculty cache with Derive of their active
// assignments.
func (s *Synchronizer) Rebuild(ctx context.Context, facultyID, trigger string) ([]CacheEntry, error) {
	for attempt := 0; attempt < cacheWriteAttempts; attempt++ {
		f, err := s.store.Faculty(ctx, facultyID)
		if err != nil {
			return nil, err
		}
		active, err := s.store.List(ctx, Filter{FacultyID: facultyID, ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("list active assignments: %w", err)
		}
		derived := Derive(active)
		err = s.store.SaveCache(ctx, facultyID, derived, f.CacheVersion)
		if errors.Is(err, ErrCacheConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save cache: %w", err)
		}
		metrics.CacheReconciles.WithLabelValues(trigger).Inc()
		s.log.Info("faculty cache rebuilt",
			zap.String("faculty_id", facultyID), zap.String("trigger", trigger), zap.Int("entries", len(derived)))
		return derived, nil
	}
	return nil, ErrCacheConflict
}

// Cache returns the faculty's verified assignment cache, rebuilding it first
// when it has drifted from assignment state.
func (s *Synchronizer) Cache(ctx context.Context, facultyID string) ([]CacheEntry, bool, error) {
	f, err := s.store.Faculty(ctx, facultyID)
	if err != nil {
		return nil, false, err
	}
	active, err := s.store.List(ctx, Filter{FacultyID: facultyID, ActiveOnly: true})
	if err != nil {
		return nil, false, fmt.Errorf("list active assignments: %w", err)
	}
	derived := Derive(active)
	if sameEntries(f.Assignments, derived) {
		return f.Assignments, false, nil
	}
	s.log.Warn("faculty cache drift detected",
		zap.String("faculty_id", facultyID), zap.Int("cached", len(f.Assignments)), zap.Int("derived", len(derived)))
	rebuilt, err := s.Rebuild(ctx, facultyID, "drift")
	if err != nil {
		return nil, false, err
	}
	return rebuilt, true, nil
}

// Sweep verifies every faculty cache and returns how many were rebuilt.
func (s *Synchronizer) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.FacultyIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list faculty: %w", err)
	}
	rebuilt := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return rebuilt, ctx.Err()
		}
		_, drifted, err := s.Cache(ctx, id)
		if err != nil {
			s.log.Error("sweep faculty cache failed", zap.String("faculty_id", id), zap.Error(err))
			continue
		}
		if drifted {
			rebuilt++
		}
	}
	return rebuilt, nil
}
