package attendance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"classledger/internal/actor"
	"classledger/internal/apperr"
	"classledger/internal/day"
	"classledger/internal/metrics"
	"classledger/internal/notify"
	"classledger/internal/roster"
)

// Mode selects first-mark or edit semantics.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// RosterResolver supplies class membership and student lookups.
type RosterResolver interface {
	Resolve(ctx context.Context, class roster.Class, department string) (roster.Roster, error)
	Student(ctx context.Context, id string) (roster.Student, error)
}

// AdvisorChecker reports whether a faculty member currently advises a class.
type AdvisorChecker interface {
	IsActiveAdvisor(ctx context.Context, facultyID string, t roster.Tuple) (bool, error)
}

// Notifier receives ledger changes once they are durable. It must not block.
type Notifier interface {
	Notify(ctx context.Context, events []notify.Event)
}

// Options tunes a Service.
type Options struct {
	// Lease is how long a pending day claim blocks other batches before it
	// may be taken over.
	Lease    time.Duration
	Notifier Notifier
	Logger   *zap.Logger
}

// Service is the attendance upsert engine and ledger query surface.
type Service struct {
	store    Store
	rosters  RosterResolver
	advisors AdvisorChecker
	days     *day.Normalizer
	notifier Notifier
	lease    time.Duration
	log      *zap.Logger
}

// NewService wires the engine.
func NewService(store Store, rosters RosterResolver, advisors AdvisorChecker, days *day.Normalizer, opts Options) *Service {
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		rosters:  rosters,
		advisors: advisors,
		days:     days,
		notifier: opts.Notifier,
		lease:    opts.Lease,
		log:      opts.Logger,
	}
}

// MarkRequest is the input of Mark and Edit. Absentees lists roll numbers;
// every other roster member is Present.
type MarkRequest struct {
	Class      roster.Class
	Department string
	Day        string
	Absentees  []string
	Actor      actor.Actor
}

// MarkResult reports what a Mark or Edit wrote.
type MarkResult struct {
	ClassKey string  `json:"class_key"`
	Day      day.Day `json:"day"`
	Mode     Mode    `json:"mode"`
	Written  int     `json:"written"`
	Present  int     `json:"present"`
	Absent   int     `json:"absent"`
	Skipped  int     `json:"skipped,omitempty"`
	Resumed  bool    `json:"resumed,omitempty"`
}

// Mark records today's attendance for a class for the first time.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (MarkResult, error) {
	return s.apply(ctx, req, ModeCreate)
}

// Edit rewrites today's attendance for a class that was already marked.
func (s *Service) Edit(ctx context.Context, req MarkRequest) (MarkResult, error) {
	return s.apply(ctx, req, ModeEdit)
}

func (s *Service) apply(ctx context.Context, req MarkRequest, mode Mode) (res MarkResult, err error) {
	defer func() {
		metrics.LedgerWrites.WithLabelValues(string(mode), metrics.Result(string(apperr.KindOf(err)), err)).Inc()
	}()

	tuple := roster.Tuple{Class: req.Class, Department: req.Department}
	if err := roster.ValidateTuple(tuple); err != nil {
		return MarkResult{}, err
	}
	if err := s.authorize(ctx, req.Actor, tuple); err != nil {
		return MarkResult{}, err
	}
	d, err := s.days.RequireToday(req.Day)
	if err != nil {
		return MarkResult{}, err
	}
	p, err := s.plan(ctx, tuple, req.Absentees)
	if err != nil {
		return MarkResult{}, err
	}

	now := s.days.Now().UTC()
	switch mode {
	case ModeCreate:
		res, err = s.create(ctx, req.Actor, tuple, d, p, now)
	case ModeEdit:
		res, err = s.edit(ctx, req.Actor, tuple, d, p, now)
	default:
		err = apperr.Invalid("unknown mode").WithDetail(string(mode))
	}
	if err != nil {
		return MarkResult{}, err
	}
	return res, nil
}

// batchPlan is a validated split of the roster into absent and present.
type batchPlan struct {
	roster roster.Roster
	absent map[string]bool
}

func (p batchPlan) status(studentID string) Status {
	if p.absent[studentID] {
		return StatusAbsent
	}
	return StatusPresent
}

// fingerprint identifies the exact batch so a retried Create can resume its
// own pending claim.
func (p batchPlan) fingerprint(classKey string, d day.Day) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", classKey, d)
	for _, st := range p.roster.Students {
		fmt.Fprintf(h, "|%s=%s", st.ID, p.status(st.ID))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// plan resolves the roster and validates every absentee before anything is
// written. Duplicate and blank entries are ignored.
func (s *Service) plan(ctx context.Context, tuple roster.Tuple, absentees []string) (batchPlan, error) {
	r, err := s.rosters.Resolve(ctx, tuple.Class, tuple.Department)
	if err != nil {
		return batchPlan{}, err
	}
	if r.Empty() {
		return batchPlan{}, apperr.EmptyRoster(tuple.Key())
	}
	p := batchPlan{roster: r, absent: make(map[string]bool, len(absentees))}
	for _, raw := range absentees {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		st, ok := r.Lookup(raw)
		if !ok {
			return batchPlan{}, apperr.UnknownRollNumber(strings.TrimSpace(raw))
		}
		p.absent[st.ID] = true
	}
	return p, nil
}

func (s *Service) create(ctx context.Context, a actor.Actor, tuple roster.Tuple, d day.Day, p batchPlan, now time.Time) (MarkResult, error) {
	key := tuple.Key()
	batchID := p.fingerprint(key, d)
	claim := DayClaim{
		ClassKey:   key,
		Day:        d,
		Department: tuple.Department,
		BatchID:    batchID,
		State:      ClaimPending,
		FacultyID:  a.ID,
		ClaimedAt:  now,
	}

	res := MarkResult{ClassKey: key, Day: d, Mode: ModeCreate}
	existing, err := s.store.ClaimDay(ctx, claim)
	switch {
	case err == nil:
	case errors.Is(err, ErrClaimExists):
		switch {
		case existing.State == ClaimComplete:
			return MarkResult{}, apperr.AlreadyMarked(key, d.String())
		case existing.BatchID == batchID:
			res.Resumed = true
		case now.Sub(existing.ClaimedAt) > s.lease:
			if err := s.store.ReclaimDay(ctx, existing, claim); err != nil {
				if errors.Is(err, ErrClaimLost) {
					return MarkResult{}, apperr.AlreadyMarked(key, d.String())
				}
				return MarkResult{}, fmt.Errorf("reclaim %s@%s: %w", key, d, err)
			}
			s.log.Warn("took over stale pending claim",
				zap.String("class_key", key), zap.String("day", d.String()),
				zap.String("previous_faculty", existing.FacultyID), zap.Time("claimed_at", existing.ClaimedAt))
		default:
			return MarkResult{}, apperr.AlreadyMarked(key, d.String())
		}
	default:
		return MarkResult{}, fmt.Errorf("claim %s@%s: %w", key, d, err)
	}

	by := updatedByFor(a)
	records := make([]Record, 0, p.roster.Len())
	for _, st := range p.roster.Students {
		status := p.status(st.ID)
		records = append(records, Record{
			Key:       Key{StudentID: st.ID, ClassKey: key, Day: d},
			RollNo:    st.RollNo,
			FacultyID: a.ID,
			Status:    status,
			UpdatedBy: by,
			UpdatedAt: now,
		})
		if status == StatusAbsent {
			res.Absent++
		} else {
			res.Present++
		}
	}
	if err := s.store.CommitDay(ctx, claim, records, now); err != nil {
		if errors.Is(err, ErrClaimLost) {
			return MarkResult{}, apperr.AlreadyMarked(key, d.String())
		}
		return MarkResult{}, fmt.Errorf("commit batch %s@%s: %w", key, d, err)
	}
	res.Written = len(records)

	for _, r := range records {
		metrics.LedgerRecords.WithLabelValues(string(ModeCreate), string(r.Status)).Inc()
	}
	s.log.Info("attendance marked",
		zap.String("class_key", key), zap.String("day", d.String()), zap.String("actor", a.ID),
		zap.Int("present", res.Present), zap.Int("absent", res.Absent), zap.Bool("resumed", res.Resumed))
	s.publish(ctx, records)
	return res, nil
}

func (s *Service) edit(ctx context.Context, a actor.Actor, tuple roster.Tuple, d day.Day, p batchPlan, now time.Time) (MarkResult, error) {
	key := tuple.Key()
	claim, err := s.store.GetDay(ctx, key, d)
	if errors.Is(err, ErrNotFound) || (err == nil && claim.State != ClaimComplete) {
		return MarkResult{}, apperr.NothingToEdit(key, d.String())
	}
	if err != nil {
		return MarkResult{}, fmt.Errorf("load claim %s@%s: %w", key, d, err)
	}

	by := updatedByFor(a)
	updates := make([]StatusUpdate, 0, p.roster.Len())
	rolls := make(map[string]string, p.roster.Len())
	for _, st := range p.roster.Students {
		updates = append(updates, StatusUpdate{
			Key:       Key{StudentID: st.ID, ClassKey: key, Day: d},
			Status:    p.status(st.ID),
			FacultyID: a.ID,
			UpdatedBy: by,
			UpdatedAt: now,
		})
		rolls[st.ID] = st.RollNo
	}
	matched, err := s.store.UpdateStatuses(ctx, updates)
	if err != nil {
		return MarkResult{}, fmt.Errorf("edit batch %s@%s: %w", key, d, err)
	}
	if len(matched) == 0 {
		return MarkResult{}, apperr.NothingToEdit(key, d.String())
	}

	res := MarkResult{ClassKey: key, Day: d, Mode: ModeEdit, Written: len(matched), Skipped: len(updates) - len(matched)}
	changed := make([]Record, 0, len(matched))
	for _, k := range matched {
		status := p.status(k.StudentID)
		if status == StatusAbsent {
			res.Absent++
		} else {
			res.Present++
		}
		metrics.LedgerRecords.WithLabelValues(string(ModeEdit), string(status)).Inc()
		changed = append(changed, Record{Key: k, RollNo: rolls[k.StudentID], Status: status, UpdatedAt: now})
	}
	if res.Skipped > 0 {
		s.log.Info("edit skipped roster members without a record",
			zap.String("class_key", key), zap.String("day", d.String()), zap.Int("skipped", res.Skipped))
	}
	s.log.Info("attendance edited",
		zap.String("class_key", key), zap.String("day", d.String()), zap.String("actor", a.ID),
		zap.Int("updated", res.Written))
	s.publish(ctx, changed)
	return res, nil
}

func (s *Service) publish(ctx context.Context, records []Record) {
	if s.notifier == nil || len(records) == 0 {
		return
	}
	events := make([]notify.Event, 0, len(records))
	for _, r := range records {
		events = append(events, notify.Event{
			Recipient: r.StudentID,
			ClassKey:  r.ClassKey,
			Day:       r.Day.String(),
			Status:    string(r.Status),
			At:        r.UpdatedAt,
		})
	}
	s.notifier.Notify(ctx, events)
}

// authorize checks the actor may manage attendance for the class.
func (s *Service) authorize(ctx context.Context, a actor.Actor, t roster.Tuple) error {
	switch a.Role {
	case actor.RoleAdmin:
		if !a.CoversDepartment(t.Department) {
			return apperr.Unauthorized("class is outside the admin's department")
		}
		return nil
	case actor.RoleFaculty:
		if !a.CoversDepartment(t.Department) {
			return apperr.Unauthorized("class is outside the faculty's department")
		}
		ok, err := s.advisors.IsActiveAdvisor(ctx, a.ID, t)
		if err != nil {
			return fmt.Errorf("check advisor: %w", err)
		}
		if !ok {
			return apperr.Unauthorized("faculty is not the active advisor of this class")
		}
		return nil
	default:
		return apperr.Unauthorized("role may not manage class attendance")
	}
}
