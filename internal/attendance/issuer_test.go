package attendance

import (
	"context"
	"regexp"
	"testing"
	"time"

	"rollcall/internal/geo"
)

func TestCreateSession(t *testing.T) {
	e := newEnv(t)
	sess := e.open(t, "csc301")

	if ok, _ := regexp.MatchString(`^[0-9a-f]{32}$`, sess.Token); !ok {
		t.Fatalf("token %q is not 128-bit hex", sess.Token)
	}
	if ok, _ := regexp.MatchString(`^[0-9]{6}$`, sess.NumericCode); !ok {
		t.Fatalf("code %q is not six digits", sess.NumericCode)
	}
	if !sess.StartTime.Equal(t0) || !sess.ExpiresAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("window = %s..%s", sess.StartTime, sess.ExpiresAt)
	}
	if !sess.IsActive || !sess.StrictLocation {
		t.Fatalf("session should be active and strict: %+v", sess)
	}
	g := sess.AllowedLocation
	if g.Latitude != 6.5244 || g.Longitude != 3.3792 || g.RadiusM != 500 || g.AccuracyM != 12 {
		t.Fatalf("geofence = %+v", g)
	}

	stored, err := e.svc.Session(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Token != sess.Token || !stored.ExpiresAt.Equal(sess.ExpiresAt) || stored.EndedAt != nil {
		t.Fatalf("stored session differs: %+v", stored)
	}
}

func TestCreateSessionOneOpenPerCourse(t *testing.T) {
	e := newEnv(t)
	first := e.open(t, "csc301")

	_, err := e.svc.CreateSession(context.Background(), hoc, "csc301", lagos)
	wantKind(t, err, KindConflict)

	// Another course is unaffected.
	if _, err := e.svc.CreateSession(context.Background(), lecturer, "csc401", lagos); err != nil {
		t.Fatalf("other course: %v", err)
	}

	// Once the first window lapses a new session may open even before a sweep.
	e.clock.Set(t0.Add(11 * time.Minute))
	second := e.open(t, "csc301")
	if second.ID == first.ID {
		t.Fatal("expected a new session")
	}
	old, _ := e.svc.Session(context.Background(), first.ID)
	if old.IsActive || old.EndReason != EndReasonExpired || old.EndedAt == nil || !old.EndedAt.Equal(first.ExpiresAt) {
		t.Fatalf("previous session not closed at expiry: %+v", old)
	}
}

func TestCreateSessionRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	student := Actor{ID: "stu-a", Role: RoleStudent, Department: "Computer Science", Level: "300"}
	otherLevel := Actor{ID: "hoc-4", Role: RoleHOC, Department: "Computer Science", Level: "400"}

	tests := []struct {
		name   string
		actor  Actor
		course string
		loc    *geo.Reading
		kind   Kind
		msg    string
	}{
		{"student role", student, "csc301", lagos, KindUnauthorized, ""},
		{"hoc other level", otherLevel, "csc301", lagos, KindUnauthorized, "cross-department session"},
		{"lecturer other department", lecturer, "mth301", lagos, KindUnauthorized, "cross-department session"},
		{"no location", hoc, "csc301", nil, KindLocationUnavailable, ""},
		{"bad latitude", hoc, "csc301", &geo.Reading{Latitude: 123, Longitude: 3}, KindValidation, ""},
		{"unknown course", admin, "nope", lagos, KindNotFound, ""},
		{"blank course", hoc, "  ", lagos, KindValidation, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sess, err := e.svc.CreateSession(ctx, tc.actor, tc.course, tc.loc)
			if sess != nil {
				t.Fatalf("unexpected session %+v", sess)
			}
			wantKind(t, err, tc.kind)
			if tc.msg != "" && err.Error() != tc.msg {
				t.Fatalf("message = %q, want %q", err.Error(), tc.msg)
			}
		})
	}
}

func TestCreateSessionConfigurableWindow(t *testing.T) {
	e := newEnv(t)
	e.svc.ttl = 2 * time.Minute
	e.svc.radius = 150
	sess := e.open(t, "csc301")
	if !sess.ExpiresAt.Equal(t0.Add(2*time.Minute)) || sess.AllowedLocation.RadiusM != 150 {
		t.Fatalf("window/radius not applied: %+v", sess)
	}
}

type recordingScheduler struct{ sessions []Session }

func (r *recordingScheduler) Schedule(s Session) { r.sessions = append(r.sessions, s) }

func TestCreateSessionArmsScheduler(t *testing.T) {
	e := newEnv(t)
	sch := &recordingScheduler{}
	e.svc.SetScheduler(sch)
	sess := e.open(t, "csc301")
	if len(sch.sessions) != 1 || sch.sessions[0].ID != sess.ID {
		t.Fatalf("scheduled = %+v", sch.sessions)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	e.clock.Set(t0.Add(3 * time.Minute))
	first, err := e.svc.EndSession(ctx, hoc, sess.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if first.IsActive || first.EndReason != EndReasonManual || !first.EndedAt.Equal(t0.Add(3*time.Minute)) {
		t.Fatalf("terminal state = %+v", first)
	}

	e.clock.Set(t0.Add(5 * time.Minute))
	second, err := e.svc.EndSession(ctx, hoc, sess.ID)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}
	if second.IsActive || second.EndReason != first.EndReason || !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("second end changed state: %+v vs %+v", second, first)
	}

	_, err = e.checkIn(sess.Token, "stu-a", 6.5244, 3.3792)
	wantKind(t, err, KindExpired)
}

func TestEndSessionAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	otherHOC := Actor{ID: "hoc-2", Role: RoleHOC, Department: "Computer Science", Level: "300"}
	_, err := e.svc.EndSession(ctx, otherHOC, sess.ID)
	wantKind(t, err, KindUnauthorized)

	mathLecturer := Actor{ID: "lec-9", Role: RoleLecturer, Department: "Mathematics"}
	_, err = e.svc.EndSession(ctx, mathLecturer, sess.ID)
	wantKind(t, err, KindUnauthorized)

	if _, err := e.svc.EndSession(ctx, lecturer, sess.ID); err != nil {
		t.Fatalf("department lecturer: %v", err)
	}
	_, err = e.svc.EndSession(ctx, admin, "missing")
	wantKind(t, err, KindNotFound)
}

// drawCodes yields the given codes in order and then repeats the last one.
func drawCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[min(i, len(codes)-1)]
		i++
		return c, nil
	}
}

func TestCreateSessionRedrawsTakenCode(t *testing.T) {
	e := newEnv(t)
	e.svc.newCode = drawCodes("111111")
	first := e.open(t, "csc301")
	if first.NumericCode != "111111" {
		t.Fatalf("code = %q", first.NumericCode)
	}

	e.svc.newCode = drawCodes("111111", "222222")
	second, err := e.svc.CreateSession(context.Background(), lecturer, "csc401", lagos)
	if err != nil {
		t.Fatalf("create after collision: %v", err)
	}
	if second.NumericCode != "222222" {
		t.Fatalf("code = %q, want a fresh draw", second.NumericCode)
	}

	e.svc.newCode = drawCodes("111111")
	_, err = e.svc.CreateSession(context.Background(), admin, "mth301", lagos)
	wantKind(t, err, KindTransient)
}

func TestCreateSessionReusesCodeOfFinishedSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.svc.newCode = drawCodes("111111")

	ended := e.open(t, "csc301")
	if _, err := e.svc.EndSession(ctx, hoc, ended.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	lapsed, err := e.svc.CreateSession(ctx, lecturer, "csc401", lagos)
	if err != nil {
		t.Fatalf("code of a closed session should be free: %v", err)
	}

	// Past expiry but not yet swept.
	e.clock.Set(t0.Add(11 * time.Minute))
	reused, err := e.svc.CreateSession(ctx, admin, "mth301", lagos)
	if err != nil {
		t.Fatalf("code of an expired session should be free: %v", err)
	}
	if reused.NumericCode != "111111" {
		t.Fatalf("code = %q", reused.NumericCode)
	}
	old, err := e.svc.Session(ctx, lapsed.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if old.IsActive || old.EndReason != EndReasonExpired {
		t.Fatalf("lapsed session = %+v", old)
	}
}
