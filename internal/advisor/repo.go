package advisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"classledger/internal/roster"
)

// Repository persists assignments and faculty caches in Postgres. The
// partial unique index advisor_assignments_one_active backs the
// one-active-per-tuple rule.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const assignmentColumns = `id, faculty_id, department, batch, level, term, section, active,
	assigned_date, assigned_by, deactivated_date, COALESCE(deactivated_by, ''), COALESCE(notes, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (Assignment, error) {
	var (
		a           Assignment
		deactivated sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.FacultyID, &a.Department, &a.Batch, &a.Level, &a.Term, &a.Section, &a.Active,
		&a.AssignedDate, &a.AssignedBy, &deactivated, &a.DeactivatedBy, &a.Notes); err != nil {
		return Assignment{}, err
	}
	if deactivated.Valid {
		t := deactivated.Time
		a.DeactivatedDate = &t
	}
	return a, nil
}

func (r *Repository) Insert(ctx context.Context, a Assignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO advisor_assignments
			(id, faculty_id, department, batch, level, term, section, active, assigned_date, assigned_by, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, a.FacultyID, a.Department, a.Batch, a.Level, a.Term, a.Section, a.Active, a.AssignedDate, a.AssignedBy, a.Notes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrActiveExists
	}
	return err
}

func (r *Repository) FindActive(ctx context.Context, t roster.Tuple) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM advisor_assignments
		WHERE department = $1 AND batch = $2 AND level = $3 AND term = $4 AND section = $5 AND active
	`, t.Department, t.Batch, t.Level, t.Term, t.Section)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) Get(ctx context.Context, id string) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM advisor_assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) Deactivate(ctx context.Context, id, by string, at time.Time) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE advisor_assignments
		SET active = FALSE, deactivated_date = $2, deactivated_by = $3
		WHERE id = $1 AND active
		RETURNING `+assignmentColumns, id, at, by)
	a, err := scanAssignment(row)
	if !errors.Is(err, sql.ErrNoRows) {
		return a, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return Assignment{}, err
	}
	return Assignment{}, ErrInactive
}

func (r *Repository) Delete(ctx context.Context, id string) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM advisor_assignments WHERE id = $1 RETURNING `+assignmentColumns, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

// List returns assignments with basic filters, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM advisor_assignments`
	args := []any{}
	clauses := []string{}
	if f.FacultyID != "" {
		args = append(args, f.FacultyID)
		clauses = append(clauses, "faculty_id = $"+strconv.Itoa(len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		clauses = append(clauses, "department = $"+strconv.Itoa(len(args)))
	}
	if f.ClassKey != "" {
		args = append(args, f.ClassKey)
		clauses = append(clauses, "(batch || '_' || level || '_' || term || '_' || section) = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY assigned_date DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *Repository) Faculty(ctx context.Context, id string) (Faculty, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, department, assignments, cache_version FROM faculty WHERE id = $1
	`, id)
	var (
		f   Faculty
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Department, &raw, &f.CacheVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Faculty{}, ErrNotFound
		}
		return Faculty{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.Assignments); err != nil {
			return Faculty{}, err
		}
	}
	return f, nil
}

func (r *Repository) FacultyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM faculty ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) SaveCache(ctx context.Context, facultyID string, entries []CacheEntry, version int64) error {
	if entries == nil {
		entries = []CacheEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE faculty SET assignments = $2, cache_version = cache_version + 1, updated_at = NOW()
		WHERE id = $1 AND cache_version = $3
	`, facultyID, string(raw), version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Faculty(ctx, facultyID); err != nil {
		return err
	}
	return ErrCacheConflict
}

// UpsertFaculty creates or updates the profile fields, leaving the cache.
func (r *Repository) UpsertFaculty(ctx context.Context, f Faculty) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faculty (id, name, department)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			updated_at = NOW()
	`, f.ID, f.Name, f.Department)
	return err
}
