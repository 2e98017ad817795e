package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"classledger/internal/day"
)

// Repository persists the ledger in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const claimColumns = `class_key, to_char(day, 'YYYY-MM-DD'), department, batch_id, state, faculty_id, claimed_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(row scanner) (DayClaim, error) {
	var (
		c         DayClaim
		d         string
		completed sql.NullTime
	)
	if err := row.Scan(&c.ClassKey, &d, &c.Department, &c.BatchID, &c.State, &c.FacultyID, &c.ClaimedAt, &completed); err != nil {
		return DayClaim{}, err
	}
	c.Day = day.Day(d)
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// ClaimDay inserts a pending claim. A conflicting insert returns the stored
// claim with ErrClaimExists.
func (r *Repository) ClaimDay(ctx context.Context, c DayClaim) (DayClaim, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_days (class_key, day, department, batch_id, state, faculty_id, claimed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ClassKey, c.Day.String(), c.Department, c.BatchID, string(c.State), c.FacultyID, c.ClaimedAt)
	if err == nil {
		return c, nil
	}
	if !isUniqueViolation(err) {
		return DayClaim{}, err
	}
	existing, err := r.GetDay(ctx, c.ClassKey, c.Day)
	if errors.Is(err, ErrNotFound) {
		// The holder was deleted between our insert and read; report as
		// taken so the caller does not loop.
		return c, ErrClaimExists
	}
	if err != nil {
		return DayClaim{}, err
	}
	return existing, ErrClaimExists
}

func (r *Repository) ReclaimDay(ctx context.Context, prev, next DayClaim) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_days
		SET batch_id = $3, faculty_id = $4, claimed_at = $5, department = $6
		WHERE class_key = $1 AND day = $2
		  AND state = 'pending' AND batch_id = $7 AND claimed_at = $8
	`, prev.ClassKey, prev.Day.String(), next.BatchID, next.FacultyID, next.ClaimedAt, next.Department, prev.BatchID, prev.ClaimedAt)
	if err != nil {
		return err
	}
	return expectOne(res, ErrClaimLost)
}

func expectOne(res sql.Result, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return miss
	}
	return nil
}

func (r *Repository) GetDay(ctx context.Context, classKey string, d day.Day) (DayClaim, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM attendance_days WHERE class_key = $1 AND day = $2
	`, classKey, d.String())
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DayClaim{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) Claims(ctx context.Context, classKey string, from, to day.Day) ([]DayClaim, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+claimColumns+`
		FROM attendance_days
		WHERE class_key = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, classKey, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DayClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CommitDay locks the pending claim row, writes the batch in student order
// and completes the claim in one transaction. A caller whose claim was
// completed or taken over finds no row to lock and writes nothing.
func (r *Repository) CommitDay(ctx context.Context, claim DayClaim, records []Record, at time.Time) error {
	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StudentID < sorted[j].StudentID })

	return r.inTx(ctx, func(tx *sql.Tx) error {
		var held int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM attendance_days
			WHERE class_key = $1 AND day = $2 AND state = 'pending' AND batch_id = $3
			FOR UPDATE
		`, claim.ClassKey, claim.Day.String(), claim.BatchID).Scan(&held)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClaimLost
		}
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attendance_records
				(student_id, class_key, day, roll_no, faculty_id, status, reason, action_taken, updated_by, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (student_id, class_key, day) DO UPDATE SET
				roll_no = EXCLUDED.roll_no,
				faculty_id = EXCLUDED.faculty_id,
				status = EXCLUDED.status,
				reason = EXCLUDED.reason,
				action_taken = EXCLUDED.action_taken,
				updated_by = EXCLUDED.updated_by,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range sorted {
			if _, err := stmt.ExecContext(ctx,
				rec.StudentID, rec.ClassKey, rec.Day.String(), rec.RollNo, rec.FacultyID,
				string(rec.Status), rec.Reason, rec.ActionTaken, string(rec.UpdatedBy), rec.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert %s: %w", rec.StudentID, err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE attendance_days
			SET state = 'complete', completed_at = $4
			WHERE class_key = $1 AND day = $2 AND state = 'pending' AND batch_id = $3
		`, claim.ClassKey, claim.Day.String(), claim.BatchID, at)
		if err != nil {
			return err
		}
		return expectOne(res, ErrClaimLost)
	})
}

// UpdateStatuses edits existing rows only, holding the complete claim row so
// edits of one class-day run one after another. The reason is cleared in the
// same statement when the stored status moves from Absent to Present.
func (r *Repository) UpdateStatuses(ctx context.Context, updates []StatusUpdate) ([]Key, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	sorted := append([]StatusUpdate(nil), updates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.StudentID < sorted[j].Key.StudentID })
	first := sorted[0].Key

	var matched []Key
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		matched = matched[:0]
		var held int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM attendance_days
			WHERE class_key = $1 AND day = $2 AND state = 'complete'
			FOR UPDATE
		`, first.ClassKey, first.Day.String()).Scan(&held)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			UPDATE attendance_records SET
				reason = CASE WHEN status = 'Absent' AND $4::text = 'Present' THEN '' ELSE reason END,
				status = $4::text,
				faculty_id = $5,
				updated_by = $6,
				updated_at = $7
			WHERE student_id = $1 AND class_key = $2 AND day = $3
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range sorted {
			res, err := stmt.ExecContext(ctx,
				u.Key.StudentID, u.Key.ClassKey, u.Key.Day.String(),
				string(u.Status), u.FacultyID, string(u.UpdatedBy), u.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("update %s: %w", u.Key.StudentID, err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n > 0 {
				matched = append(matched, u.Key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const recordColumns = `student_id, class_key, to_char(day, 'YYYY-MM-DD'), roll_no, faculty_id, status, reason, action_taken, updated_by, updated_at`

func scanRecord(row scanner) (Record, error) {
	var (
		rec Record
		d   string
	)
	if err := row.Scan(&rec.StudentID, &rec.ClassKey, &d, &rec.RollNo, &rec.FacultyID,
		&rec.Status, &rec.Reason, &rec.ActionTaken, &rec.UpdatedBy, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Day = day.Day(d)
	return rec, nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r *Repository) GetRecord(ctx context.Context, k Key) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE student_id = $1 AND class_key = $2 AND day = $3
	`, k.StudentID, k.ClassKey, k.Day.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *Repository) Records(ctx context.Context, classKey string, d day.Day) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE class_key = $1 AND day = $2
		ORDER BY roll_no
	`, classKey, d.String())
}

func (r *Repository) ClassRecords(ctx context.Context, classKey string, from, to day.Day) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE class_key = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, roll_no
	`, classKey, from.String(), to.String())
}

func (r *Repository) StudentRecords(ctx context.Context, studentID string, from, to day.Day) ([]Record, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE student_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, class_key
	`, studentID, from.String(), to.String())
}

// SetReason only touches Absent rows; a miss is resolved into ErrNotFound or
// ErrNotAbsent with a follow-up read.
func (r *Repository) SetReason(ctx context.Context, k Key, reason string, by UpdatedBy, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET reason = $4, updated_by = $5, updated_at = $6
		WHERE student_id = $1 AND class_key = $2 AND day = $3 AND status = 'Absent'
	`, k.StudentID, k.ClassKey, k.Day.String(), reason, string(by), at)
	if err != nil {
		return err
	}
	if err := expectOne(res, ErrNotAbsent); err == nil || !errors.Is(err, ErrNotAbsent) {
		return err
	}
	if _, err := r.GetRecord(ctx, k); err != nil {
		return err
	}
	return ErrNotAbsent
}

func (r *Repository) SetAction(ctx context.Context, k Key, action, facultyID string, by UpdatedBy, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET action_taken = $4, faculty_id = $5, updated_by = $6, updated_at = $7
		WHERE student_id = $1 AND class_key = $2 AND day = $3
	`, k.StudentID, k.ClassKey, k.Day.String(), action, facultyID, string(by), at)
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}
