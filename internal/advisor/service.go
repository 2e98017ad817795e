package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classledger/internal/actor"
	"classledger/internal/apperr"
	"classledger/internal/metrics"
	"classledger/internal/roster"
)

// MaxNotesLen bounds assignment notes.
const MaxNotesLen = 500

const defaultAssignAttempts = 5

// Options tunes a Service.
type Options struct {
	// AssignAttempts bounds how often Assign restarts after losing a race.
	AssignAttempts int
	Now            func() time.Time
	Logger         *zap.Logger
}

// Service is the advisor assignment state machine.
type Service struct {
	store    Store
	sync     *Synchronizer
	attempts int
	now      func() time.Time
	log      *zap.Logger
}

// NewService wires the state machine to its store and cache synchronizer.
func NewService(store Store, sync *Synchronizer, opts Options) *Service {
	if opts.AssignAttempts <= 0 {
		opts.AssignAttempts = defaultAssignAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{store: store, sync: sync, attempts: opts.AssignAttempts, now: opts.Now, log: opts.Logger}
}

// Stored timestamps are millisecond precision so caches built from memory
// compare equal to caches derived from any backend.
func (s *Service) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// AssignRequest names the new advisor for a class tuple.
type AssignRequest struct {
	Tuple     roster.Tuple
	FacultyID string
	Notes     string
	Actor     actor.Actor
}

// AssignResult is the active instance after Assign and the one it replaced.
type AssignResult struct {
	Assignment Assignment  `json:"assignment"`
	Replaced   *Assignment `json:"replaced,omitempty"`
	// Unchanged is set when the faculty already held the tuple.
	Unchanged bool `json:"unchanged,omitempty"`
}

// Assign makes req.FacultyID the tuple's only active advisor. The sequence
// is find, deactivate, insert; a lost deactivate or an insert rejected by
// the one-active constraint restarts it.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (res AssignResult, err error) {
	defer func() {
		metrics.AdvisorTransitions.WithLabelValues("assign", metrics.Result(string(apperr.KindOf(err)), err)).Inc()
	}()

	if err := s.authorize(req.Actor, req.Tuple.Department); err != nil {
		return AssignResult{}, err
	}
	if err := roster.ValidateTuple(req.Tuple); err != nil {
		return AssignResult{}, err
	}
	if req.FacultyID == "" {
		return AssignResult{}, apperr.Invalid("faculty id is required")
	}
	if len(req.Notes) > MaxNotesLen {
		return AssignResult{}, apperr.Invalid(fmt.Sprintf("notes must be at most %d characters", MaxNotesLen))
	}
	fac, err := s.store.Faculty(ctx, req.FacultyID)
	if errors.Is(err, ErrNotFound) {
		return AssignResult{}, apperr.NotFound("faculty", req.FacultyID)
	}
	if err != nil {
		return AssignResult{}, fmt.Errorf("load faculty: %w", err)
	}
	if fac.Department != "" && fac.Department != req.Tuple.Department {
		return AssignResult{}, apperr.Invalid("faculty belongs to another department").WithDetail(fac.Department)
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			metrics.AssignRetries.Inc()
		}
		now := s.stamp()

		var replaced *Assignment
		cur, err := s.store.FindActive(ctx, req.Tuple)
		switch {
		case err == nil:
			if cur.FacultyID == req.FacultyID {
				return AssignResult{Assignment: cur, Unchanged: true}, nil
			}
			prev, err := s.store.Deactivate(ctx, cur.ID, req.Actor.ID, now)
			if errors.Is(err, ErrInactive) || errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return AssignResult{}, fmt.Errorf("deactivate %s: %w", cur.ID, err)
			}
			replaced = &prev
		case errors.Is(err, ErrNotFound):
		default:
			return AssignResult{}, fmt.Errorf("find active: %w", err)
		}

		next := Assignment{
			ID:           uuid.NewString(),
			FacultyID:    req.FacultyID,
			Tuple:        req.Tuple,
			Active:       true,
			AssignedDate: now,
			AssignedBy:   req.Actor.ID,
			Notes:        req.Notes,
		}
		err = s.store.Insert(ctx, next)
		if errors.Is(err, ErrActiveExists) {
			if replaced != nil {
				// Another assigner won after our deactivate; its cache
				// work covers the tuple but not our predecessor.
				s.sync.AfterRemoval(ctx, *replaced)
			}
			continue
		}
		if err != nil {
			if replaced != nil {
				s.sync.AfterRemoval(ctx, *replaced)
			}
			return AssignResult{}, fmt.Errorf("insert assignment: %w", err)
		}

		s.sync.AfterAssign(ctx, next, replaced)
		fields := []zap.Field{
			zap.String("assignment_id", next.ID), zap.String("tuple", req.Tuple.ID()),
			zap.String("faculty_id", next.FacultyID), zap.String("actor", req.Actor.ID),
		}
		if replaced != nil {
			fields = append(fields, zap.String("replaced_faculty_id", replaced.FacultyID))
		}
		s.log.Info("advisor assigned", fields...)
		return AssignResult{Assignment: next, Replaced: replaced}, nil
	}
	return AssignResult{}, apperr.Conflict("concurrent assignments kept changing the class advisor").WithDetail(req.Tuple.ID())
}

// Deactivate ends an active instance without a replacement.
func (s *Service) Deactivate(ctx context.Context, id string, a actor.Actor) (out Assignment, err error) {
	defer func() {
		metrics.AdvisorTransitions.WithLabelValues("deactivate", metrics.Result(string(apperr.KindOf(err)), err)).Inc()
	}()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.authorize(a, cur.Department); err != nil {
		return Assignment{}, err
	}
	out, err = s.store.Deactivate(ctx, id, a.ID, s.stamp())
	switch {
	case errors.Is(err, ErrInactive):
		return Assignment{}, apperr.AlreadyInactive(id)
	case errors.Is(err, ErrNotFound):
		return Assignment{}, apperr.NotFound("assignment", id)
	case err != nil:
		return Assignment{}, fmt.Errorf("deactivate %s: %w", id, err)
	}
	s.sync.AfterRemoval(ctx, out)
	s.log.Info("advisor deactivated",
		zap.String("assignment_id", id), zap.String("faculty_id", out.FacultyID), zap.String("actor", a.ID))
	return out, nil
}

// Remove hard-deletes an instance in any state and drops it from the cache.
func (s *Service) Remove(ctx context.Context, id string, a actor.Actor) (out Assignment, err error) {
	defer func() {
		metrics.AdvisorTransitions.WithLabelValues("remove", metrics.Result(string(apperr.KindOf(err)), err)).Inc()
	}()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.authorize(a, cur.Department); err != nil {
		return Assignment{}, err
	}
	out, err = s.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Assignment{}, apperr.NotFound("assignment", id)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("delete %s: %w", id, err)
	}
	s.sync.AfterRemoval(ctx, out)
	s.log.Info("advisor assignment removed",
		zap.String("assignment_id", id), zap.String("faculty_id", out.FacultyID),
		zap.Bool("was_active", out.Active), zap.String("actor", a.ID))
	return out, nil
}

// Get returns one instance.
func (s *Service) Get(ctx context.Context, id string) (Assignment, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Assignment{}, apperr.NotFound("assignment", id)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("get assignment %s: %w", id, err)
	}
	return a, nil
}

// List returns instances matching f, scoped to the actor's department.
func (s *Service) List(ctx context.Context, f Filter, a actor.Actor) ([]Assignment, error) {
	if a.Role != actor.RoleAdmin {
		return nil, apperr.Unauthorized("only admins manage advisor assignments")
	}
	if a.Department != "" {
		if f.Department != "" && f.Department != a.Department {
			return nil, apperr.Unauthorized("department is outside the admin's scope")
		}
		f.Department = a.Department
	}
	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

// ActiveFor returns the tuple's active instance.
func (s *Service) ActiveFor(ctx context.Context, t roster.Tuple) (Assignment, error) {
	if err := roster.ValidateTuple(t); err != nil {
		return Assignment{}, err
	}
	a, err := s.store.FindActive(ctx, t)
	if errors.Is(err, ErrNotFound) {
		return Assignment{}, apperr.NotFound("active assignment", t.ID())
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("find active: %w", err)
	}
	return a, nil
}

// IsActiveAdvisor reads assignment state, never the cache.
func (s *Service) IsActiveAdvisor(ctx context.Context, facultyID string, t roster.Tuple) (bool, error) {
	a, err := s.store.FindActive(ctx, t)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.FacultyID == facultyID, nil
}

// FacultyCache returns a faculty's verified cache. Admins in scope and the
// faculty themselves may read it.
func (s *Service) FacultyCache(ctx context.Context, facultyID string, a actor.Actor) ([]CacheEntry, error) {
	if err := s.authorizeFaculty(ctx, facultyID, a, true); err != nil {
		return nil, err
	}
	entries, _, err := s.sync.Cache(ctx, facultyID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("faculty", facultyID)
	}
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []CacheEntry{}
	}
	return entries, nil
}

// RebuildCache forces a rebuild of one faculty's cache.
func (s *Service) RebuildCache(ctx context.Context, facultyID string, a actor.Actor) ([]CacheEntry, error) {
	if err := s.authorizeFaculty(ctx, facultyID, a, false); err != nil {
		return nil, err
	}
	entries, err := s.sync.Rebuild(ctx, facultyID, "manual")
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("faculty", facultyID)
	}
	return entries, err
}

func (s *Service) authorizeFaculty(ctx context.Context, facultyID string, a actor.Actor, allowSelf bool) error {
	if allowSelf && a.Role == actor.RoleFaculty && a.ID == facultyID {
		return nil
	}
	if a.Role != actor.RoleAdmin {
		return apperr.Unauthorized("only admins manage advisor assignments")
	}
	f, err := s.store.Faculty(ctx, facultyID)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("faculty", facultyID)
	}
	if err != nil {
		return fmt.Errorf("load faculty: %w", err)
	}
	if !a.CoversDepartment(f.Department) {
		return apperr.Unauthorized("faculty is outside the admin's department")
	}
	return nil
}

func (s *Service) authorize(a actor.Actor, department string) error {
	if a.Role != actor.RoleAdmin {
		return apperr.Unauthorized("only admins manage advisor assignments")
	}
	if !a.CoversDepartment(department) {
		return apperr.Unauthorized("department is outside the admin's scope")
	}
	return nil
}
