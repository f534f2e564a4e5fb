package attendance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"rollcall/internal/metrics"
)

// ManualMark is a staff override recording a student as present.
type ManualMark struct {
	SessionID string
	StudentID string
	Reason    string
	Metadata  map[string]string
}

// RecordManual marks a student present on the actor's authority. It is
// allowed after the session closed so staff can correct the ledger. When
// the student already has a record, the original is returned with
// Reason=duplicate.
func (s *Service) RecordManual(ctx context.Context, actor Actor, m ManualMark) (Decision, error) {
	if !actor.Role.Staff() {
		return Decision{}, newError(KindUnauthorized, "role %q cannot mark attendance", actor.Role)
	}
	m.Reason = strings.TrimSpace(m.Reason)
	m.StudentID = strings.TrimSpace(m.StudentID)
	if m.Reason == "" {
		return Decision{}, newError(KindValidation, "reason required for manual attendance")
	}
	if m.StudentID == "" {
		return Decision{}, newError(KindValidation, "student id required")
	}

	sess, err := s.Session(ctx, m.SessionID)
	if err != nil {
		return Decision{}, err
	}
	dec := Decision{Session: sess}

	course, err := s.course(ctx, sess.CourseID)
	if err != nil {
		return dec, err
	}
	if actor.ID != sess.IssuedBy {
		if err := authorizeScope(actor, course); err != nil {
			return dec, err
		}
	}

	existing, err := s.repo.GetRecord(ctx, sess.ID, m.StudentID)
	if err != nil {
		return dec, transient("load record", err)
	}
	if existing != nil {
		return s.duplicate(dec, existing), nil
	}
	if err := s.checkEnrollment(ctx, sess, m.StudentID, KindValidation); err != nil {
		return dec, err
	}

	rec := Record{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		StudentID:      m.StudentID,
		ScannedAt:      s.now(),
		MarkedManually: true,
		ManualReason:   m.Reason,
		MarkedBy:       actor.ID,
		Metadata:       m.Metadata,
	}
	inserted, err := s.repo.InsertRecord(ctx, rec)
	if err != nil {
		return dec, transient("record manual mark", err)
	}
	if !inserted {
		existing, err := s.repo.GetRecord(ctx, sess.ID, m.StudentID)
		if err != nil {
			return dec, transient("load record", err)
		}
		if existing == nil {
			return dec, transient("record manual mark", errors.New("record vanished after conflict"))
		}
		return s.duplicate(dec, existing), nil
	}

	dec.Accepted = true
	dec.Reason = ReasonAccepted
	dec.Record = &rec
	metrics.CheckIns.WithLabelValues("manual").Inc()
	s.logger.Info("attendance marked manually", "session", sess.ID, "student", m.StudentID,
		"by", actor.ID, "reason", m.Reason)
	s.publish(ctx, sess, rec)
	return dec, nil
}

// ListForSession returns every record of a session in scan order.
func (s *Service) ListForSession(ctx context.Context, sessionID string) ([]Record, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	recs, err := s.repo.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, transient("list records", err)
	}
	return recs, nil
}

// CountForSession counts a session's records.
func (s *Service) CountForSession(ctx context.Context, sessionID string) (int, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return 0, err
	}
	n, err := s.repo.CountRecords(ctx, sessionID)
	if err != nil {
		return 0, transient("count records", err)
	}
	return n, nil
}

// Absentees lists enrolled students with no record for the session.
func (s *Service) Absentees(ctx context.Context, sessionID string) ([]Student, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	course, err := s.course(ctx, sess.CourseID)
	if err != nil {
		return nil, err
	}
	roster, err := s.dir.Roster(ctx, course.Department, course.Level)
	if err != nil {
		return nil, transient("load roster", err)
	}
	recs, err := s.repo.ListRecords(ctx, sess.ID)
	if err != nil {
		return nil, transient("list records", err)
	}
	present := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		present[r.StudentID] = struct{}{}
	}
	absent := []Student{}
	for _, st := range roster {
		if _, ok := present[st.ID]; !ok {
			absent = append(absent, st)
		}
	}
	return absent, nil
}
