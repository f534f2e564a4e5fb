package attendance

import (
	"context"
	"testing"
	"time"
)

func TestStudentAttendance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Three csc301 sessions, stu-a attends two. One csc401 session is outside
	// stu-a's level and never counts.
	for i := 0; i < 3; i++ {
		e.clock.Set(t0.Add(time.Duration(i) * 24 * time.Hour))
		sess := e.open(t, "csc301")
		if i < 2 {
			if _, err := e.checkIn(sess.Token, "stu-a", 6.5244, 3.3792); err != nil {
				t.Fatalf("check-in: %v", err)
			}
		}
		if _, err := e.svc.EndSession(ctx, hoc, sess.ID); err != nil {
			t.Fatalf("end: %v", err)
		}
	}
	if _, err := e.svc.CreateSession(ctx, lecturer, "csc401", lagos); err != nil {
		t.Fatalf("create csc401: %v", err)
	}

	sum, err := e.svc.StudentAttendance(ctx, "stu-a", "csc301")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if sum.Sessions != 3 || sum.Attended != 2 || sum.Percentage != 66.67 {
		t.Fatalf("summary = %+v", sum)
	}

	cohort, err := e.svc.StudentAttendance(ctx, "stu-a", "")
	if err != nil || cohort.Sessions != 3 || cohort.Attended != 2 {
		t.Fatalf("cohort summary = %+v (%v)", cohort, err)
	}

	none, err := e.svc.StudentAttendance(ctx, "stu-m", "")
	if err != nil || none.Sessions != 0 || none.Percentage != 0 {
		t.Fatalf("empty scope = %+v (%v)", none, err)
	}

	_, err = e.svc.StudentAttendance(ctx, "ghost", "")
	wantKind(t, err, KindNotFound)
	_, err = e.svc.StudentAttendance(ctx, "stu-a", "nope")
	wantKind(t, err, KindNotFound)
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		part, whole int
		want        float64
	}{
		{0, 0, 0},
		{1, 1, 100},
		{1, 3, 33.33},
		{5, 8, 62.5},
	}
	for _, tc := range tests {
		if got := percentage(tc.part, tc.whole); got != tc.want {
			t.Errorf("percentage(%d, %d) = %v, want %v", tc.part, tc.whole, got, tc.want)
		}
	}
}
