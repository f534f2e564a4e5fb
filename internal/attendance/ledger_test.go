package attendance

import (
	"context"
	"testing"
	"time"
)

func TestRecordManualRequiresReason(t *testing.T) {
	e := newEnv(t)
	sess := e.open(t, "csc301")

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := e.svc.RecordManual(context.Background(), hoc, ManualMark{SessionID: sess.ID, StudentID: "stu-a", Reason: reason})
		wantKind(t, err, KindValidation)
	}
	n, _ := e.svc.CountForSession(context.Background(), sess.ID)
	if n != 0 {
		t.Fatalf("count = %d", n)
	}
}

func TestRecordManualAfterClose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	e.clock.Set(t0.Add(30 * time.Minute))
	dec, err := e.svc.RecordManual(ctx, lecturer, ManualMark{
		SessionID: sess.ID,
		StudentID: "stu-b",
		Reason:    " phone battery died ",
	})
	if err != nil || !dec.Accepted {
		t.Fatalf("manual mark: %+v %v", dec, err)
	}
	recs, _ := e.svc.ListForSession(ctx, sess.ID)
	if len(recs) != 1 {
		t.Fatalf("records = %d", len(recs))
	}
	r := recs[0]
	if !r.MarkedManually || r.ManualReason != "phone battery died" || r.MarkedBy != lecturer.ID || r.DistanceM != nil {
		t.Fatalf("record = %+v", r)
	}
	if !r.ScannedAt.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("scanned_at = %s", r.ScannedAt)
	}
}

func TestRecordManualDuplicateAcrossPaths(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	e.clock.Set(t0.Add(time.Minute))
	if _, err := e.checkIn(sess.Token, "stu-a", 6.5244, 3.3792); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	e.clock.Set(t0.Add(4 * time.Minute))
	dec, err := e.svc.RecordManual(ctx, hoc, ManualMark{SessionID: sess.ID, StudentID: "stu-a", Reason: "late arrival"})
	if err != nil {
		t.Fatalf("manual duplicate must not error: %v", err)
	}
	if !dec.Duplicate() || dec.Record.MarkedManually || !dec.Record.ScannedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("decision = %+v record = %+v", dec, dec.Record)
	}

	// And the reverse: a scan after a manual mark is a duplicate.
	if _, err := e.svc.RecordManual(ctx, hoc, ManualMark{SessionID: sess.ID, StudentID: "stu-b", Reason: "excused"}); err != nil {
		t.Fatalf("manual: %v", err)
	}
	again, err := e.checkIn(sess.Token, "stu-b", 6.5244, 3.3792)
	if err != nil || !again.Duplicate() || !again.Record.MarkedManually {
		t.Fatalf("scan after manual: %+v %v", again, err)
	}
}

func TestRecordManualRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")
	student := Actor{ID: "stu-a", Role: RoleStudent, Department: "Computer Science", Level: "300"}
	mathHOC := Actor{ID: "hoc-m", Role: RoleHOC, Department: "Mathematics", Level: "300"}

	tests := []struct {
		name  string
		actor Actor
		mark  ManualMark
		kind  Kind
	}{
		{"student", student, ManualMark{SessionID: sess.ID, StudentID: "stu-a", Reason: "me"}, KindUnauthorized},
		{"other department hoc", mathHOC, ManualMark{SessionID: sess.ID, StudentID: "stu-a", Reason: "x"}, KindUnauthorized},
		{"missing session", hoc, ManualMark{SessionID: "nope", StudentID: "stu-a", Reason: "x"}, KindNotFound},
		{"missing student", hoc, ManualMark{SessionID: sess.ID, StudentID: "ghost", Reason: "x"}, KindNotFound},
		{"not enrolled", hoc, ManualMark{SessionID: sess.ID, StudentID: "stu-m", Reason: "x"}, KindValidation},
		{"blank student", hoc, ManualMark{SessionID: sess.ID, Reason: "x"}, KindValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.RecordManual(ctx, tc.actor, tc.mark)
			wantKind(t, err, tc.kind)
		})
	}
}

func TestListForSessionOrderAndAbsentees(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess := e.open(t, "csc301")

	e.clock.Set(t0.Add(2 * time.Minute))
	e.checkIn(sess.Token, "stu-b", 6.5244, 3.3792)
	e.clock.Set(t0.Add(1 * time.Minute))
	e.checkIn(sess.Token, "stu-a", 6.5244, 3.3792)

	recs, err := e.svc.ListForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].StudentID != "stu-a" || recs[1].StudentID != "stu-b" {
		t.Fatalf("records out of order: %+v", recs)
	}

	absent, err := e.svc.Absentees(ctx, sess.ID)
	if err != nil {
		t.Fatalf("absentees: %v", err)
	}
	if len(absent) != 1 || absent[0].ID != "stu-c" {
		t.Fatalf("absentees = %+v", absent)
	}

	_, err = e.svc.ListForSession(ctx, "missing")
	wantKind(t, err, KindNotFound)
	_, err = e.svc.CountForSession(ctx, "missing")
	wantKind(t, err, KindNotFound)
}
