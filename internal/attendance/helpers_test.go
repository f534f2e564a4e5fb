package attendance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rollcall/internal/feed"
	"rollcall/internal/geo"
	"rollcall/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// tableDirectory writes the catalogue into the same database so foreign
// keys hold, and answers lookups from memory.
type tableDirectory struct {
	db       *store.DB
	courses  map[string]Course
	students map[string]Student
	err      error
}

func (d *tableDirectory) addCourse(t *testing.T, c Course) {
	t.Helper()
	_, err := d.db.Client.Exec(d.db.Dialect.Rebind(`INSERT INTO courses (id, code, title, department, level) VALUES (?,?,?,?,?)`),
		c.ID, c.Code, c.Title, c.Department, c.Level)
	if err != nil {
		t.Fatalf("add course: %v", err)
	}
	d.courses[c.ID] = c
}

func (d *tableDirectory) addStudent(t *testing.T, s Student) {
	t.Helper()
	_, err := d.db.Client.Exec(d.db.Dialect.Rebind(`INSERT INTO students (id, name, matric_no, department, level) VALUES (?,?,?,?,?)`),
		s.ID, s.Name, s.MatricNo, s.Department, s.Level)
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	d.students[s.ID] = s
}

func (d *tableDirectory) Course(_ context.Context, id string) (*Course, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *tableDirectory) Student(_ context.Context, id string) (*Student, error) {
	if d.err != nil {
		return nil, d.err
	}
	s, ok := d.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *tableDirectory) Roster(_ context.Context, department, level string) ([]Student, error) {
	var out []Student
	for _, s := range d.students {
		if s.Department == department && s.Level == level {
			out = append(out, s)
		}
	}
	return out, nil
}

type env struct {
	svc   *Service
	repo  *Repository
	dir   *tableDirectory
	clock *clock
	feed  *feed.Memory
}

var (
	hoc      = Actor{ID: "hoc-1", Role: RoleHOC, Department: "Computer Science", Level: "300"}
	lecturer = Actor{ID: "lec-1", Role: RoleLecturer, Department: "Computer Science", Level: ""}
	admin    = Actor{ID: "admin-1", Role: RoleAdmin}
	lagos    = &geo.Reading{Latitude: 6.5244, Longitude: 3.3792, Accuracy: 12, Source: geo.SourceGPS}
)

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "rollcall.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	dir := &tableDirectory{db: db, courses: map[string]Course{}, students: map[string]Student{}}
	dir.addCourse(t, Course{ID: "csc301", Code: "CSC 301", Title: "Operating Systems", Department: "Computer Science", Level: "300"})
	dir.addCourse(t, Course{ID: "csc401", Code: "CSC 401", Title: "Compilers", Department: "Computer Science", Level: "400"})
	dir.addCourse(t, Course{ID: "mth301", Code: "MTH 301", Title: "Real Analysis", Department: "Mathematics", Level: "300"})
	dir.addStudent(t, Student{ID: "stu-a", Name: "Ada", MatricNo: "190001", Department: "Computer Science", Level: "300"})
	dir.addStudent(t, Student{ID: "stu-b", Name: "Bola", MatricNo: "190002", Department: "Computer Science", Level: "300"})
	dir.addStudent(t, Student{ID: "stu-c", Name: "Chidi", MatricNo: "190003", Department: "Computer Science", Level: "300"})
	dir.addStudent(t, Student{ID: "stu-m", Name: "Musa", MatricNo: "190101", Department: "Mathematics", Level: "300"})

	clk := &clock{now: t0}
	mem := feed.NewMemory(50)
	repo := NewRepository(db)
	svc := NewService(repo, dir, Options{
		Feed:   mem,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	svc.now = clk.Now
	return &env{svc: svc, repo: repo, dir: dir, clock: clk, feed: mem}
}

func (e *env) open(t *testing.T, courseID string) *Session {
	t.Helper()
	sess, err := e.svc.CreateSession(context.Background(), hoc, courseID, lagos)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (e *env) checkIn(token, student string, lat, lon float64) (Decision, error) {
	return e.svc.CheckIn(context.Background(), CheckInRequest{
		Token:     token,
		StudentID: student,
		Location:  &geo.Reading{Latitude: lat, Longitude: lon, Accuracy: 10, Source: geo.SourceGPS},
	})
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %q (%v), want %q", got, err, kind)
	}
}

type failingFeed struct{}

func (failingFeed) Append(context.Context, feed.Event) error { return errors.New("feed down") }
func (failingFeed) Recent(context.Context, int) ([]feed.Event, error) {
	return nil, errors.New("feed down")
}
