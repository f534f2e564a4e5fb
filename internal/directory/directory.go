// Package directory serves course and student lookups from the SQL tables
// owned by the course-management system.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"rollcall/internal/attendance"
	"rollcall/internal/store"
)

// SQL implements attendance.Directory.
type SQL struct {
	db *sql.DB
	d  store.Dialect
}

// New creates a directory over db.
func New(db *store.DB) *SQL {
	return &SQL{db: db.Client, d: db.Dialect}
}

// Course returns the course or nil when absent.
func (s *SQL) Course(ctx context.Context, id string) (*attendance.Course, error) {
	var c attendance.Course
	err := s.db.QueryRowContext(ctx, s.d.Rebind(`
		SELECT id, code, title, department, level FROM courses WHERE id = ?
	`), id).Scan(&c.ID, &c.Code, &c.Title, &c.Department, &c.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load course: %w", err)
	}
	return &c, nil
}

// Student returns the student or nil when absent.
func (s *SQL) Student(ctx context.Context, id string) (*attendance.Student, error) {
	var st attendance.Student
	err := s.db.QueryRowContext(ctx, s.d.Rebind(`
		SELECT id, name, matric_no, department, level FROM students WHERE id = ?
	`), id).Scan(&st.ID, &st.Name, &st.MatricNo, &st.Department, &st.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load student: %w", err)
	}
	return &st, nil
}

// Roster lists the students of a department and level.
func (s *SQL) Roster(ctx context.Context, department, level string) ([]attendance.Student, error) {
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(`
		SELECT id, name, matric_no, department, level FROM students
		WHERE department = ? AND level = ?
		ORDER BY matric_no
	`), department, level)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close()
	var res []attendance.Student
	for rows.Next() {
		var st attendance.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.MatricNo, &st.Department, &st.Level); err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// UpsertCourse inserts or refreshes a course.
func (s *SQL) UpsertCourse(ctx context.Context, c attendance.Course) error {
	_, err := s.db.ExecContext(ctx, s.d.Rebind(`
		INSERT INTO courses (id, code, title, department, level)
		VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET code = excluded.code, title = excluded.title,
			department = excluded.department, level = excluded.level
	`), c.ID, c.Code, c.Title, c.Department, c.Level)
	if err != nil {
		return fmt.Errorf("upsert course %s: %w", c.ID, err)
	}
	return nil
}

// UpsertStudent inserts or refreshes a student.
func (s *SQL) UpsertStudent(ctx context.Context, st attendance.Student) error {
	_, err := s.db.ExecContext(ctx, s.d.Rebind(`
		INSERT INTO students (id, name, matric_no, department, level)
		VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, matric_no = excluded.matric_no,
			department = excluded.department, level = excluded.level
	`), st.ID, st.Name, st.MatricNo, st.Department, st.Level)
	if err != nil {
		return fmt.Errorf("upsert student %s: %w", st.ID, err)
	}
	return nil
}

// RemoveStudent deletes a student; their records cascade.
func (s *SQL) RemoveStudent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.d.Rebind(`DELETE FROM students WHERE id = ?`), id); err != nil {
		return fmt.Errorf("remove student %s: %w", id, err)
	}
	return nil
}

// Seed is the file format accepted by LoadSeed.
type Seed struct {
	Courses  []attendance.Course  `json:"courses"`
	Students []attendance.Student `json:"students"`
}

// LoadSeed upserts the courses and students in a JSON file. It is used for
// local deployments where no course-management system feeds the tables.
func (s *SQL) LoadSeed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	n := 0
	for _, c := range seed.Courses {
		if err := s.UpsertCourse(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	for _, st := range seed.Students {
		if err := s.UpsertStudent(ctx, st); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
