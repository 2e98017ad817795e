package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"classledger/internal/actor"
	"classledger/internal/apperr"
	"classledger/internal/roster"
)

var validate = validator.New()

// ReasonRequest is a student's explanation for an absence.
type ReasonRequest struct {
	Actor actor.Actor
	Day   string
	// ClassKey defaults to the student's current class.
	ClassKey string
	Reason   string
}

// SubmitReason stores a student's reason on their own Absent record. It
// overwrites whatever reason was there before.
func (s *Service) SubmitReason(ctx context.Context, req ReasonRequest) (Record, error) {
	if req.Actor.Role != actor.RoleStudent {
		return Record{}, apperr.Unauthorized("only students submit absence reasons")
	}
	if err := validate.Var(req.Reason, fmt.Sprintf("required,max=%d", MaxTextLen)); err != nil {
		return Record{}, apperr.Invalid(fmt.Sprintf("reason must be 1-%d characters", MaxTextLen))
	}
	d, err := s.days.Normalize(req.Day)
	if err != nil {
		return Record{}, err
	}
	if s.days.Today().Before(d) {
		return Record{}, apperr.New(apperr.KindPolicyViolation, "cannot explain a future day").
			WithCode("futureDay").WithDetail(d.String())
	}

	classKey := req.ClassKey
	if classKey == "" {
		st, err := s.rosters.Student(ctx, req.Actor.ID)
		if err != nil {
			return Record{}, err
		}
		classKey = st.Class.Key()
	} else if _, err := roster.ParseKey(classKey); err != nil {
		return Record{}, err
	}

	k := Key{StudentID: req.Actor.ID, ClassKey: classKey, Day: d}
	if err := s.requireVisible(ctx, k); err != nil {
		return Record{}, err
	}
	err = s.store.SetReason(ctx, k, req.Reason, ByStudent, s.days.Now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		return Record{}, apperr.NotFound("attendance record", recordID(k))
	case errors.Is(err, ErrNotAbsent):
		return Record{}, apperr.New(apperr.KindPolicyViolation, "a reason can only be given for an absence").
			WithCode("reasonOnlyWhenAbsent").WithDetail(recordID(k))
	case err != nil:
		return Record{}, fmt.Errorf("set reason: %w", err)
	}
	return s.store.GetRecord(ctx, k)
}

// ActionRequest records the follow-up taken for one student's record.
type ActionRequest struct {
	Class       roster.Class
	Department  string
	Day         string
	RollNo      string
	ActionTaken string
	Actor       actor.Actor
}

// RecordAction sets actionTaken on a record. An empty action clears it.
func (s *Service) RecordAction(ctx context.Context, req ActionRequest) (Record, error) {
	tuple := roster.Tuple{Class: req.Class, Department: req.Department}
	if err := roster.ValidateTuple(tuple); err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, req.Actor, tuple); err != nil {
		return Record{}, err
	}
	if err := validate.Var(req.ActionTaken, fmt.Sprintf("max=%d", MaxTextLen)); err != nil {
		return Record{}, apperr.Invalid(fmt.Sprintf("action taken must be at most %d characters", MaxTextLen))
	}
	d, err := s.days.Normalize(req.Day)
	if err != nil {
		return Record{}, err
	}
	r, err := s.rosters.Resolve(ctx, tuple.Class, tuple.Department)
	if err != nil {
		return Record{}, err
	}
	st, ok := r.Lookup(req.RollNo)
	if !ok {
		return Record{}, apperr.UnknownRollNumber(req.RollNo)
	}

	k := Key{StudentID: st.ID, ClassKey: tuple.Key(), Day: d}
	if err := s.requireVisible(ctx, k); err != nil {
		return Record{}, err
	}
	err = s.store.SetAction(ctx, k, req.ActionTaken, req.Actor.ID, updatedByFor(req.Actor), s.days.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		return Record{}, apperr.NotFound("attendance record", recordID(k))
	}
	if err != nil {
		return Record{}, fmt.Errorf("set action: %w", err)
	}
	return s.store.GetRecord(ctx, k)
}

func (s *Service) requireVisible(ctx context.Context, k Key) error {
	ok, err := s.dayVisible(ctx, k.ClassKey, k.Day)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("attendance record", recordID(k))
	}
	return nil
}

func recordID(k Key) string {
	return k.StudentID + "/" + k.ClassKey + "@" + string(k.Day)
}
