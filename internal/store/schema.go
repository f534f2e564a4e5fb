package store

import (
	"context"
	"fmt"
	"strings"
)

// InitSchema ensures baseline tables and indexes exist.
func (d *DB) InitSchema(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return fmt.Errorf("store not initialized")
	}
	ts := d.Dialect.TimestampType()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS courses (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			title TEXT NOT NULL,
			department TEXT NOT NULL,
			level TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			matric_no TEXT NOT NULL UNIQUE,
			department TEXT NOT NULL,
			level TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_students_dept_level ON students(department, level)`,
		`CREATE TABLE IF NOT EXISTS attendance_sessions (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL REFERENCES courses(id),
			issued_by TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			numeric_code TEXT NOT NULL,
			start_time {{ts}} NOT NULL,
			expires_at {{ts}} NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			radius_m DOUBLE PRECISION NOT NULL,
			accuracy_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			strict_location BOOLEAN NOT NULL DEFAULT TRUE,
			address TEXT NOT NULL DEFAULT '',
			ended_at {{ts}},
			end_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_open_course ON attendance_sessions(course_id) WHERE is_active = TRUE`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_open_code ON attendance_sessions(numeric_code) WHERE is_active = TRUE`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_sweep ON attendance_sessions(is_active, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_code_start ON attendance_sessions(numeric_code, start_time)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES attendance_sessions(id),
			student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
			scanned_at {{ts}} NOT NULL,
			marked_manually BOOLEAN NOT NULL DEFAULT FALSE,
			manual_reason TEXT NOT NULL DEFAULT '',
			marked_by TEXT NOT NULL DEFAULT '',
			distance_m DOUBLE PRECISION,
			metadata TEXT NOT NULL DEFAULT '{}',
			UNIQUE (session_id, student_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_scanned ON attendance_records(scanned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_student ON attendance_records(student_id)`,
	}

	for _, stmt := range stmts {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", ts)
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
