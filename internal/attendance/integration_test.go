package attendance

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"classledger/internal/actor"
	"classledger/internal/apperr"
	"classledger/internal/day"
	"classledger/internal/store"
)

func integration(t *testing.T, env string) string {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run backend tests")
	}
	v := os.Getenv(env)
	if v == "" {
		t.Skipf("%s not set", env)
	}
	return v
}

// ledgerScenario runs the mark, edit and reason flow against a real backend,
// then checks that a stale commit and concurrent edits cannot mix batches.
func ledgerScenario(t *testing.T, backend Store) {
	f := newFixture(t, backend, nil)
	ctx := context.Background()

	res, err := f.mark("R2")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if res.Written != 3 || res.Absent != 1 {
		t.Fatalf("unexpected mark result %+v", res)
	}
	if _, err := f.mark(); apperr.KindOf(err) != apperr.KindAlreadyMarked {
		t.Fatalf("expected AlreadyMarked, got %v", err)
	}

	student := actor.Actor{ID: "s2", Role: actor.RoleStudent, Department: dept}
	if _, err := f.svc.SubmitReason(ctx, ReasonRequest{Actor: student, Day: today, Reason: "fever"}); err != nil {
		t.Fatalf("reason: %v", err)
	}
	if _, err := f.edit(); err != nil {
		t.Fatalf("edit: %v", err)
	}
	e := statusOf(f.history(t), "R2")
	if e.Status != StatusPresent || e.Reason != "" {
		t.Fatalf("edit must flip R2 to Present and clear the reason, got %+v", e)
	}

	d := day.Day(today)
	claim, err := backend.GetDay(ctx, classA.Key(), d)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	stale := []Record{{
		Key:       Key{StudentID: "s1", ClassKey: classA.Key(), Day: d},
		RollNo:    "R1",
		FacultyID: "f1",
		Status:    StatusAbsent,
		UpdatedBy: ByFaculty,
		UpdatedAt: f.clock.now(),
	}}
	if err := backend.CommitDay(ctx, claim, stale, f.clock.now()); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("commit over a complete day must be ErrClaimLost, got %v", err)
	}
	if statusOf(f.history(t), "R1").Status != StatusPresent {
		t.Fatalf("a lost commit must not write records")
	}

	for i := 0; i < 5; i++ {
		var wg sync.WaitGroup
		for _, absent := range [][]string{{"R1", "R2"}, {"R3"}} {
			wg.Add(1)
			go func(absent []string) {
				defer wg.Done()
				if _, err := f.edit(absent...); err != nil {
					t.Errorf("concurrent edit: %v", err)
				}
			}(absent)
		}
		wg.Wait()
		h := f.history(t)
		r1, r2, r3 := statusOf(h, "R1").Status, statusOf(h, "R2").Status, statusOf(h, "R3").Status
		first := r1 == StatusAbsent && r2 == StatusAbsent && r3 == StatusPresent
		second := r1 == StatusPresent && r2 == StatusPresent && r3 == StatusAbsent
		if !first && !second {
			t.Fatalf("concurrent edits interleaved: R1=%s R2=%s R3=%s", r1, r2, r3)
		}
	}
}

func TestPostgresLedger(t *testing.T) {
	url := integration(t, "DATABASE_URL")
	ctx := context.Background()
	db, err := store.NewDB(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, q := range []string{
		`DELETE FROM attendance_records WHERE class_key = $1`,
		`DELETE FROM attendance_days WHERE class_key = $1`,
	} {
		if _, err := db.Client.ExecContext(ctx, q, classA.Key()); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}
	ledgerScenario(t, NewRepository(db.Client))
}

// MONGO_URI must name a replica set since commits and edits use transactions.
func TestMongoLedger(t *testing.T) {
	uri := integration(t, "MONGO_URI")
	ctx := context.Background()
	m, err := store.NewMongo(ctx, uri, "classledger_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Close(ctx)
	if err := m.DB.Drop(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	ledgerScenario(t, NewMongoStore(m.DB))
}
