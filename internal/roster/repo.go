package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Repository reads the student directory from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveStudents lists active students of a class within a department.
func (r *Repository) ActiveStudents(ctx context.Context, class Class, department string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_no, name, department, batch, level, term, section, status
		FROM students
		WHERE department = $1 AND batch = $2 AND level = $3 AND term = $4 AND section = $5
		  AND status = 'active'
		ORDER BY roll_no
	`, department, class.Batch, class.Level, class.Term, class.Section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.RollNo, &s.Name, &s.Department, &s.Batch, &s.Level, &s.Term, &s.Section, &s.Status); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Student returns a single student by id.
func (r *Repository) Student(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_no, name, department, batch, level, term, section, status
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.RollNo, &s.Name, &s.Department, &s.Batch, &s.Level, &s.Term, &s.Section, &s.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	return s, nil
}

// UpsertStudent creates or updates a directory entry.
func (r *Repository) UpsertStudent(ctx context.Context, s Student) error {
	if s.Status == "" {
		s.Status = StatusActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, roll_no, name, department, batch, level, term, section, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			roll_no = EXCLUDED.roll_no,
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			batch = EXCLUDED.batch,
			level = EXCLUDED.level,
			term = EXCLUDED.term,
			section = EXCLUDED.section,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, s.ID, s.RollNo, s.Name, s.Department, s.Batch, s.Level, s.Term, s.Section, s.Status)
	return err
}
