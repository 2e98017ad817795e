// Package advisor owns class-advisor assignments and the per-faculty
// assignment cache derived from them.
package advisor

import (
	"time"

	"classledger/internal/roster"
)

// Assignment is one advisor instance for a class tuple. Instances never
// return to active once deactivated; reassignment creates a new one.
type Assignment struct {
	ID              string     `json:"id" bson:"_id"`
	FacultyID       string     `json:"faculty_id" bson:"facultyId"`
	roster.Tuple    `bson:",inline"`
	Active          bool       `json:"active" bson:"active"`
	AssignedDate    time.Time  `json:"assigned_date" bson:"assignedDate"`
	AssignedBy      string     `json:"assigned_by" bson:"assignedBy"`
	DeactivatedDate *time.Time `json:"deactivated_date,omitempty" bson:"deactivatedDate,omitempty"`
	DeactivatedBy   string     `json:"deactivated_by,omitempty" bson:"deactivatedBy,omitempty"`
	Notes           string     `json:"notes,omitempty" bson:"notes,omitempty"`
}

// CacheEntry mirrors one active assignment inside the faculty record.
type CacheEntry struct {
	AssignmentID string    `json:"assignment_id" bson:"assignmentId"`
	ClassKey     string    `json:"class_key" bson:"classKey"`
	Department   string    `json:"department" bson:"department"`
	Batch        string    `json:"batch" bson:"batch"`
	Level        string    `json:"level" bson:"level"`
	Term         string    `json:"term" bson:"term"`
	Section      string    `json:"section" bson:"section"`
	AssignedDate time.Time `json:"assigned_date" bson:"assignedDate"`
	AssignedBy   string    `json:"assigned_by" bson:"assignedBy"`
	Notes        string    `json:"notes,omitempty" bson:"notes,omitempty"`
}

// Tuple rebuilds the class identity the entry describes.
func (e CacheEntry) Tuple() roster.Tuple {
	return roster.Tuple{
		Class:      roster.Class{Batch: e.Batch, Level: e.Level, Term: e.Term, Section: e.Section},
		Department: e.Department,
	}
}

// Faculty is the faculty record carrying the embedded assignment cache.
// CacheVersion increases on every cache write.
type Faculty struct {
	ID           string       `json:"id" bson:"_id"`
	Name         string       `json:"name" bson:"name"`
	Department   string       `json:"department" bson:"department"`
	Assignments  []CacheEntry `json:"assignments" bson:"assignments"`
	CacheVersion int64        `json:"cache_version" bson:"cacheVersion"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	FacultyID  string
	Department string
	ClassKey   string
	ActiveOnly bool
}

func (f Filter) match(a Assignment) bool {
	if f.FacultyID != "" && a.FacultyID != f.FacultyID {
		return false
	}
	if f.Department != "" && a.Department != f.Department {
		return false
	}
	if f.ClassKey != "" && a.Key() != f.ClassKey {
		return false
	}
	return !f.ActiveOnly || a.Active
}
