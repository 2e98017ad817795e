package attendance

import (
	"time"

	"classledger/internal/actor"
	"classledger/internal/day"
)

// Status is a student's attendance for one day.
type Status string

const (
	StatusPresent   Status = "Present"
	StatusAbsent    Status = "Absent"
	StatusOnDuty    Status = "OnDuty"
	StatusNotMarked Status = "NotMarked"
)

// UpdatedBy records which kind of party last wrote a record.
type UpdatedBy string

const (
	ByFaculty UpdatedBy = "faculty"
	ByStudent UpdatedBy = "student"
	ByAdmin   UpdatedBy = "admin"
)

func updatedByFor(a actor.Actor) UpdatedBy {
	switch a.Role {
	case actor.RoleAdmin:
		return ByAdmin
	case actor.RoleStudent:
		return ByStudent
	default:
		return ByFaculty
	}
}

// MaxTextLen bounds reason and actionTaken.
const MaxTextLen = 500

// Key identifies one ledger record.
type Key struct {
	StudentID string  `json:"student_id" bson:"studentId"`
	ClassKey  string  `json:"class_key" bson:"classKey"`
	Day       day.Day `json:"day" bson:"day"`
}

// Record is one student's attendance for one class-day.
type Record struct {
	Key         `bson:",inline"`
	RollNo      string    `json:"roll_no" bson:"rollNo"`
	FacultyID   string    `json:"faculty_id" bson:"facultyId"`
	Status      Status    `json:"status" bson:"status"`
	Reason      string    `json:"reason,omitempty" bson:"reason"`
	ActionTaken string    `json:"action_taken,omitempty" bson:"actionTaken"`
	UpdatedBy   UpdatedBy `json:"updated_by" bson:"updatedBy"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updatedAt"`
}

// ClaimState is the lifecycle of a class-day batch.
type ClaimState string

const (
	ClaimPending  ClaimState = "pending"
	ClaimComplete ClaimState = "complete"
)

// DayClaim serializes first-marks of one class-day. Records of a class-day
// are visible to readers only once its claim is complete.
type DayClaim struct {
	ClassKey    string     `json:"class_key" bson:"classKey"`
	Day         day.Day    `json:"day" bson:"day"`
	Department  string     `json:"department" bson:"department"`
	BatchID     string     `json:"batch_id" bson:"batchId"`
	State       ClaimState `json:"state" bson:"state"`
	FacultyID   string     `json:"faculty_id" bson:"facultyId"`
	ClaimedAt   time.Time  `json:"claimed_at" bson:"claimedAt"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completedAt,omitempty"`
}

// StatusUpdate is one edit of an existing record. The store clears the
// reason when the stored status moves from Absent to Present.
type StatusUpdate struct {
	Key       Key
	Status    Status
	FacultyID string
	UpdatedBy UpdatedBy
	UpdatedAt time.Time
}
