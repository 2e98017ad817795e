package advisor

import (
	"context"
	"errors"
	"time"

	"classledger/internal/roster"
)

var (
	// ErrNotFound is returned for unknown assignments and faculty.
	ErrNotFound = errors.New("not found")
	// ErrActiveExists means an insert hit the one-active-per-tuple constraint.
	ErrActiveExists = errors.New("tuple already has an active assignment")
	// ErrInactive means a deactivate found the instance already inactive.
	ErrInactive = errors.New("assignment is not active")
	// ErrCacheConflict means the faculty cache version moved under a write.
	ErrCacheConflict = errors.New("faculty cache version changed")
)

// Store persists assignments and the faculty cache. Implementations enforce
// at most one active assignment per tuple at the storage layer.
type Store interface {
	// Insert adds a. An active insert that conflicts with another active
	// instance of the same tuple fails with ErrActiveExists.
	Insert(ctx context.Context, a Assignment) error
	// FindActive returns the tuple's active instance or ErrNotFound.
	FindActive(ctx context.Context, t roster.Tuple) (Assignment, error)
	Get(ctx context.Context, id string) (Assignment, error)
	// Deactivate flips an active instance to inactive and returns it. It
	// fails with ErrInactive or ErrNotFound.
	Deactivate(ctx context.Context, id, by string, at time.Time) (Assignment, error)
	// Delete removes the instance and returns what was stored.
	Delete(ctx context.Context, id string) (Assignment, error)
	List(ctx context.Context, f Filter) ([]Assignment, error)

	Faculty(ctx context.Context, id string) (Faculty, error)
	FacultyIDs(ctx context.Context) ([]string, error)
	// SaveCache overwrites the faculty cache if its version is still
	// version, bumping it by one. Otherwise it fails with ErrCacheConflict.
	SaveCache(ctx context.Context, facultyID string, entries []CacheEntry, version int64) error
}
