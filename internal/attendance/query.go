package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classledger/internal/actor"
	"classledger/internal/apperr"
	"classledger/internal/day"
	"classledger/internal/roster"
)

// MaxRangeDays bounds summary and student history queries.
const MaxRangeDays = 62

// HistoryRequest selects one class-day.
type HistoryRequest struct {
	Class      roster.Class
	Department string
	Day        string
	Actor      actor.Actor
}

// HistoryEntry is one roster member's status for the day.
type HistoryEntry struct {
	StudentID   string     `json:"student_id"`
	RollNo      string     `json:"roll_no"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ActionTaken string     `json:"action_taken,omitempty"`
	UpdatedBy   UpdatedBy  `json:"updated_by,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// History is the ledger view of a class-day.
type History struct {
	ClassKey  string         `json:"class_key"`
	Day       day.Day        `json:"day"`
	Marked    bool           `json:"marked"`
	Present   int            `json:"present"`
	Absent    int            `json:"absent"`
	OnDuty    int            `json:"on_duty"`
	NotMarked int            `json:"not_marked"`
	Entries   []HistoryEntry `json:"entries"`
}

// History returns every roster member's status for a day. Members with no
// visible record are NotMarked.
func (s *Service) History(ctx context.Context, req HistoryRequest) (History, error) {
	tuple := roster.Tuple{Class: req.Class, Department: req.Department}
	if err := roster.ValidateTuple(tuple); err != nil {
		return History{}, err
	}
	if err := s.authorize(ctx, req.Actor, tuple); err != nil {
		return History{}, err
	}
	d, err := s.days.Normalize(req.Day)
	if err != nil {
		return History{}, err
	}
	r, err := s.rosters.Resolve(ctx, tuple.Class, tuple.Department)
	if err != nil {
		return History{}, err
	}
	if r.Empty() {
		return History{}, apperr.EmptyRoster(tuple.Key())
	}

	key := tuple.Key()
	marked, err := s.dayVisible(ctx, key, d)
	if err != nil {
		return History{}, err
	}
	byStudent := map[string]Record{}
	if marked {
		recs, err := s.store.Records(ctx, key, d)
		if err != nil {
			return History{}, fmt.Errorf("load records %s@%s: %w", key, d, err)
		}
		for _, rec := range recs {
			byStudent[rec.StudentID] = rec
		}
	}

	h := History{ClassKey: key, Day: d, Marked: marked, Entries: make([]HistoryEntry, 0, r.Len())}
	for _, st := range r.Students {
		e := HistoryEntry{StudentID: st.ID, RollNo: st.RollNo, Name: st.Name, Status: StatusNotMarked}
		if rec, ok := byStudent[st.ID]; ok {
			at := rec.UpdatedAt
			e.Status = rec.Status
			e.Reason = rec.Reason
			e.ActionTaken = rec.ActionTaken
			e.UpdatedBy = rec.UpdatedBy
			e.UpdatedAt = &at
		}
		switch e.Status {
		case StatusPresent:
			h.Present++
		case StatusAbsent:
			h.Absent++
		case StatusOnDuty:
			h.OnDuty++
		default:
			h.NotMarked++
		}
		h.Entries = append(h.Entries, e)
	}
	return h, nil
}

// SummaryRequest selects a class over a day range.
type SummaryRequest struct {
	Class      roster.Class
	Department string
	From       string
	To         string
	Actor      actor.Actor
}

// DaySummary counts statuses for one class-day.
type DaySummary struct {
	Day     day.Day `json:"day"`
	Marked  bool    `json:"marked"`
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	OnDuty  int     `json:"on_duty"`
}

// Summary returns per-day counts for a class over [From, To].
func (s *Service) Summary(ctx context.Context, req SummaryRequest) ([]DaySummary, error) {
	tuple := roster.Tuple{Class: req.Class, Department: req.Department}
	if err := roster.ValidateTuple(tuple); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Actor, tuple); err != nil {
		return nil, err
	}
	days, err := s.days.Range(req.From, req.To, MaxRangeDays)
	if err != nil {
		return nil, err
	}
	key := tuple.Key()
	first, last := days[0], days[len(days)-1]

	complete, err := s.completeDays(ctx, key, first, last)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ClassRecords(ctx, key, first, last)
	if err != nil {
		return nil, fmt.Errorf("load records %s: %w", key, err)
	}

	idx := make(map[day.Day]int, len(days))
	out := make([]DaySummary, len(days))
	for i, d := range days {
		idx[d] = i
		out[i] = DaySummary{Day: d, Marked: complete[d]}
	}
	for _, rec := range recs {
		i, ok := idx[rec.Day]
		if !ok || !complete[rec.Day] {
			continue
		}
		switch rec.Status {
		case StatusPresent:
			out[i].Present++
		case StatusAbsent:
			out[i].Absent++
		case StatusOnDuty:
			out[i].OnDuty++
		}
	}
	return out, nil
}

// StudentHistory lists one student's visible records over [from, to].
// Students may only read their own history; faculty and admins need the
// student's department in scope.
func (s *Service) StudentHistory(ctx context.Context, a actor.Actor, studentID, from, to string) ([]Record, error) {
	switch a.Role {
	case actor.RoleStudent:
		if a.ID != studentID {
			return nil, apperr.Unauthorized("students may only read their own attendance")
		}
	case actor.RoleFaculty, actor.RoleAdmin:
		st, err := s.rosters.Student(ctx, studentID)
		if err != nil {
			return nil, err
		}
		if !a.CoversDepartment(st.Department) {
			return nil, apperr.Unauthorized("student is outside the actor's department")
		}
	default:
		return nil, apperr.Unauthorized("unknown role")
	}

	days, err := s.days.Range(from, to, MaxRangeDays)
	if err != nil {
		return nil, err
	}
	first, last := days[0], days[len(days)-1]
	recs, err := s.store.StudentRecords(ctx, studentID, first, last)
	if err != nil {
		return nil, fmt.Errorf("load student records: %w", err)
	}

	visible := map[string]map[day.Day]bool{}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		complete, ok := visible[rec.ClassKey]
		if !ok {
			complete, err = s.completeDays(ctx, rec.ClassKey, first, last)
			if err != nil {
				return nil, err
			}
			visible[rec.ClassKey] = complete
		}
		if complete[rec.Day] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Service) dayVisible(ctx context.Context, classKey string, d day.Day) (bool, error) {
	claim, err := s.store.GetDay(ctx, classKey, d)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load claim %s@%s: %w", classKey, d, err)
	}
	return claim.State == ClaimComplete, nil
}

func (s *Service) completeDays(ctx context.Context, classKey string, from, to day.Day) (map[day.Day]bool, error) {
	claims, err := s.store.Claims(ctx, classKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("load claims %s: %w", classKey, err)
	}
	out := make(map[day.Day]bool, len(claims))
	for _, c := range claims {
		if c.State == ClaimComplete {
			out[c.Day] = true
		}
	}
	return out, nil
}
