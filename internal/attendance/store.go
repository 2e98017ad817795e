package attendance

import (
	"context"
	"errors"
	"time"

	"classledger/internal/day"
)

var (
	// ErrClaimExists is returned by ClaimDay together with the stored claim.
	ErrClaimExists = errors.New("day already claimed")
	// ErrClaimLost means a compare-and-swap on a claim found different state.
	ErrClaimLost = errors.New("day claim changed concurrently")
	// ErrNotFound is returned for missing claims or records.
	ErrNotFound = errors.New("not found")
	// ErrNotAbsent is returned by SetReason when the record is not Absent.
	ErrNotAbsent = errors.New("record is not absent")
)

// Store is the ledger persistence contract. Implementations must enforce
// uniqueness of (classKey, day) claims and of (studentId, classKey, day)
// records, and make CommitDay / UpdateStatuses safe to re-run.
type Store interface {
	// ClaimDay inserts c. On conflict it returns the stored claim and
	// ErrClaimExists.
	ClaimDay(ctx context.Context, c DayClaim) (DayClaim, error)
	// ReclaimDay replaces prev with next only if the stored claim still
	// matches prev's batch, state and claim time.
	ReclaimDay(ctx context.Context, prev, next DayClaim) error
	// CommitDay writes records and flips the pending claim carrying
	// claim.BatchID to complete as one atomic unit. When the stored claim is
	// no longer that pending batch nothing is written and ErrClaimLost is
	// returned.
	CommitDay(ctx context.Context, claim DayClaim, records []Record, at time.Time) error
	GetDay(ctx context.Context, classKey string, d day.Day) (DayClaim, error)
	Claims(ctx context.Context, classKey string, from, to day.Day) ([]DayClaim, error)

	// UpdateStatuses edits existing records of a complete class-day only and
	// returns the keys it matched. Edits of the same class-day serialize.
	UpdateStatuses(ctx context.Context, updates []StatusUpdate) ([]Key, error)

	GetRecord(ctx context.Context, k Key) (Record, error)
	Records(ctx context.Context, classKey string, d day.Day) ([]Record, error)
	ClassRecords(ctx context.Context, classKey string, from, to day.Day) ([]Record, error)
	StudentRecords(ctx context.Context, studentID string, from, to day.Day) ([]Record, error)

	// SetReason writes reason only while the record is Absent.
	SetReason(ctx context.Context, k Key, reason string, by UpdatedBy, at time.Time) error
	SetAction(ctx context.Context, k Key, action, facultyID string, by UpdatedBy, at time.Time) error
}
