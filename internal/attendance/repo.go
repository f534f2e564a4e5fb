package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/store"
)

const sessionColumns = `id, course_id, issued_by, token, numeric_code, start_time, expires_at, is_active,
	latitude, longitude, radius_m, accuracy_m, strict_location, address, ended_at, end_reason`

const recordColumns = `id, session_id, student_id, scanned_at, marked_manually, manual_reason, marked_by, distance_m, metadata`

// Repository persists sessions and records. Uniqueness is enforced by the
// database, never by the caller.
type Repository struct {
	db *sql.DB
	d  store.Dialect
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db.Client, d: db.Dialect}
}

func (r *Repository) q(query string) string { return r.d.Rebind(query) }

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s       Session
		start   store.Time
		expires store.Time
		ended   store.NullTime
	)
	err := row.Scan(&s.ID, &s.CourseID, &s.IssuedBy, &s.Token, &s.NumericCode, &start, &expires, &s.IsActive,
		&s.AllowedLocation.Latitude, &s.AllowedLocation.Longitude, &s.AllowedLocation.RadiusM,
		&s.AllowedLocation.AccuracyM, &s.StrictLocation, &s.AllowedLocation.Address, &ended, &s.EndReason)
	if err != nil {
		return Session{}, err
	}
	s.StartTime = start.Time
	s.ExpiresAt = expires.Time
	s.EndedAt = ended.Ptr()
	return s, nil
}

func scanRecord(row scanner, extra ...any) (Record, error) {
	var (
		rec      Record
		scanned  store.Time
		distance sql.NullFloat64
		meta     string
	)
	dest := append([]any{&rec.ID, &rec.SessionID, &rec.StudentID, &scanned, &rec.MarkedManually,
		&rec.ManualReason, &rec.MarkedBy, &distance, &meta}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Record{}, err
	}
	rec.ScannedAt = scanned.Time
	if distance.Valid {
		d := distance.Float64
		rec.DistanceM = &d
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("decode record metadata: %w", err)
		}
	}
	return rec, nil
}

// InsertSession stores s unless an open session for the course, an open
// session with the same numeric code, or the same token already exists.
func (r *Repository) InsertSession(ctx context.Context, s Session) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_sessions (`+sessionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT DO NOTHING
	`), s.ID, s.CourseID, s.IssuedBy, s.Token, s.NumericCode, r.d.Time(s.StartTime), r.d.Time(s.ExpiresAt), s.IsActive,
		s.AllowedLocation.Latitude, s.AllowedLocation.Longitude, s.AllowedLocation.RadiusM,
		s.AllowedLocation.AccuracyM, s.StrictLocation, s.AllowedLocation.Address, r.d.NullTimeArg(s.EndedAt), s.EndReason)
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) oneSession(ctx context.Context, query string, args ...any) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, r.q(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	return r.oneSession(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = ?`, id)
}

// SessionByToken returns the session carrying token.
func (r *Repository) SessionByToken(ctx context.Context, token string) (*Session, error) {
	return r.oneSession(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE token = ?`, token)
}

// SessionByCode prefers the open session carrying code, then the most recent one.
func (r *Repository) SessionByCode(ctx context.Context, code string) (*Session, error) {
	return r.oneSession(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE numeric_code = ?
		ORDER BY is_active DESC, start_time DESC
		LIMIT 1
	`, code)
}

// OpenSessionForCourse returns the course's active session if any.
func (r *Repository) OpenSessionForCourse(ctx context.Context, courseID string) (*Session, error) {
	return r.oneSession(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE course_id = ? AND is_active = TRUE`, courseID)
}

// CloseSession deactivates an open session. It reports false when the
// session was already closed.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE attendance_sessions
		SET is_active = FALSE, ended_at = ?, end_reason = ?
		WHERE id = ? AND is_active = TRUE
	`), r.d.Time(at), reason, id)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return n == 1, nil
}

// CloseExpired deactivates every open session whose expiry is at or before
// now and returns their ids. The end time is the expiry, not the sweep time.
func (r *Repository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		UPDATE attendance_sessions
		SET is_active = FALSE, ended_at = expires_at, end_reason = ?
		WHERE is_active = TRUE AND expires_at <= ?
		RETURNING id
	`), EndReasonExpired, r.d.Time(now))
	if err != nil {
		return nil, fmt.Errorf("close expired sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("close expired sessions: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertRecord appends rec unless the (session, student) pair already exists.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (bool, error) {
	meta := "{}"
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode record metadata: %w", err)
		}
		meta = string(b)
	}
	var distance any
	if rec.DistanceM != nil {
		distance = *rec.DistanceM
	}
	res, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`), rec.ID, rec.SessionID, rec.StudentID, r.d.Time(rec.ScannedAt), rec.MarkedManually,
		rec.ManualReason, rec.MarkedBy, distance, meta)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	return n == 1, nil
}

// GetRecord returns the record for a (session, student) pair.
func (r *Repository) GetRecord(ctx context.Context, sessionID, studentID string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.q(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = ? AND student_id = ?
	`), sessionID, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns a session's records in scan order.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = ?
		ORDER BY scanned_at ASC, id ASC
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountRecords counts a session's records.
func (r *Repository) CountRecords(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM attendance_records WHERE session_id = ?`), sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// RecentRecords returns the newest records across all sessions with their course.
func (r *Repository) RecentRecords(ctx context.Context, limit int) ([]Record, []string, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT r.id, r.session_id, r.student_id, r.scanned_at, r.marked_manually, r.manual_reason,
			r.marked_by, r.distance_m, r.metadata, s.course_id
		FROM attendance_records r
		JOIN attendance_sessions s ON s.id = r.session_id
		ORDER BY r.scanned_at DESC, r.id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("recent records: %w", err)
	}
	defer rows.Close()
	var (
		recs    []Record
		courses []string
	)
	for rows.Next() {
		var courseID string
		rec, err := scanRecord(rows, &courseID)
		if err != nil {
			return nil, nil, fmt.Errorf("recent records: %w", err)
		}
		recs = append(recs, rec)
		courses = append(courses, courseID)
	}
	return recs, courses, rows.Err()
}

// Scope selects the sessions a report covers: one course, or every course of
// a department and level.
type Scope struct {
	CourseID   string
	Department string
	Level      string
}

func (sc Scope) where() (string, []any) {
	if sc.CourseID != "" {
		return `s.course_id = ?`, []any{sc.CourseID}
	}
	return `c.department = ? AND c.level = ?`, []any{sc.Department, sc.Level}
}

// Tally counts the sessions in scope and how many of them the student attended.
func (r *Repository) Tally(ctx context.Context, studentID string, sc Scope) (sessions, attended int, err error) {
	cond, args := sc.where()
	err = r.db.QueryRowContext(ctx, r.q(`
		SELECT COUNT(*) FROM attendance_sessions s
		JOIN courses c ON c.id = s.course_id
		WHERE `+cond), args...).Scan(&sessions)
	if err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	err = r.db.QueryRowContext(ctx, r.q(`
		SELECT COUNT(*) FROM attendance_records r
		JOIN attendance_sessions s ON s.id = r.session_id
		JOIN courses c ON c.id = s.course_id
		WHERE r.student_id = ? AND `+cond), append([]any{studentID}, args...)...).Scan(&attended)
	if err != nil {
		return 0, 0, fmt.Errorf("count attended: %w", err)
	}
	return sessions, attended, nil
}
