package attendance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"rollcall/internal/geo"
	"rollcall/internal/metrics"
)

// CheckInRequest is a student's attempt to join a session by scanned token
// or by numeric backup code.
type CheckInRequest struct {
	Token     string
	Code      string
	StudentID string
	Location  *geo.Reading
	Metadata  map[string]string
}

func (s *Service) validateCheckIn(req *CheckInRequest) error {
	req.Token = strings.TrimSpace(req.Token)
	req.Code = strings.TrimSpace(req.Code)
	req.StudentID = strings.TrimSpace(req.StudentID)

	if req.StudentID == "" {
		return newError(KindValidation, "student id required")
	}
	switch {
	case req.Token == "" && req.Code == "":
		return newError(KindValidation, "token or numeric code required")
	case req.Token != "" && req.Code != "":
		return newError(KindValidation, "provide either token or numeric code, not both")
	case req.Token != "":
		if err := s.validate.Var(req.Token, "len=32,hexadecimal"); err != nil {
			return newError(KindValidation, "malformed session token")
		}
	default:
		if err := s.validate.Var(req.Code, "len=6,numeric"); err != nil {
			return newError(KindValidation, "numeric code must be 6 digits")
		}
	}
	if req.Location != nil {
		if err := s.validate.Struct(req.Location); err != nil {
			return &Error{Kind: KindValidation, Msg: "invalid location", Err: err}
		}
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, req CheckInRequest) (*Session, error) {
	var (
		sess *Session
		err  error
	)
	if req.Token != "" {
		sess, err = s.repo.SessionByToken(ctx, req.Token)
	} else {
		sess, err = s.repo.SessionByCode(ctx, req.Code)
	}
	if err != nil {
		return nil, transient("load session", err)
	}
	if sess == nil {
		return nil, newError(KindNotFound, "session not found")
	}
	return sess, nil
}

// CheckIn admits a student into a session. Checks run in order: session
// exists, session open, no existing record, geofence, enrollment. A
// duplicate is not an error; the original record is returned.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (Decision, error) {
	if err := s.validateCheckIn(&req); err != nil {
		return s.reject(Decision{}, err)
	}
	now := s.now()

	sess, err := s.lookup(ctx, req)
	if err != nil {
		return s.reject(Decision{}, err)
	}
	dec := Decision{Session: sess}

	if !sess.OpenAt(now) {
		return s.reject(dec, newError(KindExpired, "attendance session has expired"))
	}

	existing, err := s.repo.GetRecord(ctx, sess.ID, req.StudentID)
	if err != nil {
		return s.reject(dec, transient("load record", err))
	}
	if existing != nil {
		return s.duplicate(dec, existing), nil
	}

	if req.Location != nil {
		d := geo.Distance(req.Location.Point(), geo.Point{
			Latitude:  sess.AllowedLocation.Latitude,
			Longitude: sess.AllowedLocation.Longitude,
		})
		dec.DistanceM = &d
	}
	if sess.StrictLocation {
		if dec.DistanceM == nil {
			return s.reject(dec, newError(KindLocationUnavailable, "location required for this session"))
		}
		if *dec.DistanceM > sess.AllowedLocation.RadiusM {
			return s.reject(dec, &Error{
				Kind:     KindOutOfRange,
				Msg:      "outside the allowed check-in area",
				Distance: *dec.DistanceM,
				Radius:   sess.AllowedLocation.RadiusM,
			})
		}
	}

	if err := s.checkEnrollment(ctx, sess, req.StudentID, KindUnauthorized); err != nil {
		return s.reject(dec, err)
	}

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: req.StudentID,
		ScannedAt: now,
		DistanceM: dec.DistanceM,
		Metadata:  checkInMetadata(req),
	}
	inserted, err := s.repo.InsertRecord(ctx, rec)
	if err != nil {
		return s.reject(dec, transient("record check-in", err))
	}
	if !inserted {
		existing, err := s.repo.GetRecord(ctx, sess.ID, req.StudentID)
		if err != nil {
			return s.reject(dec, transient("load record", err))
		}
		if existing == nil {
			return s.reject(dec, transient("record check-in", errors.New("record vanished after conflict")))
		}
		return s.duplicate(dec, existing), nil
	}

	dec.Accepted = true
	dec.Reason = ReasonAccepted
	dec.Record = &rec
	metrics.CheckIns.WithLabelValues(string(ReasonAccepted)).Inc()
	s.logger.Info("check-in accepted", "session", sess.ID, "student", req.StudentID)
	s.publish(ctx, sess, rec)
	return dec, nil
}

// checkEnrollment verifies the student exists and belongs to the session's
// course cohort; mismatches fail with kind.
func (s *Service) checkEnrollment(ctx context.Context, sess *Session, studentID string, kind Kind) error {
	st, err := s.student(ctx, studentID)
	if err != nil {
		return err
	}
	course, err := s.course(ctx, sess.CourseID)
	if err != nil {
		return err
	}
	if !st.EnrolledIn(*course) {
		return newError(kind, "student is not enrolled in %s", course.Code)
	}
	return nil
}

func (s *Service) duplicate(dec Decision, existing *Record) Decision {
	dec.Reason = ReasonDuplicate
	dec.Record = existing
	metrics.CheckIns.WithLabelValues(string(ReasonDuplicate)).Inc()
	s.logger.Debug("attendance already recorded", "session", existing.SessionID,
		"student", existing.StudentID, "scanned_at", existing.ScannedAt)
	return dec
}

// reject fills the decision reason from err and returns both.
func (s *Service) reject(dec Decision, err error) (Decision, error) {
	dec.Accepted = false
	kind := KindOf(err)
	switch kind {
	case KindTransient, "":
		metrics.CheckIns.WithLabelValues("error").Inc()
		s.logger.Error("check-in failed", "error", err)
		return dec, err
	}
	dec.Reason = Reason(kind)
	metrics.CheckIns.WithLabelValues(string(kind)).Inc()
	attrs := []any{"reason", kind}
	if dec.Session != nil {
		attrs = append(attrs, "session", dec.Session.ID)
	}
	if dec.DistanceM != nil {
		attrs = append(attrs, "distance_m", *dec.DistanceM)
	}
	s.logger.Info("check-in rejected", attrs...)
	return dec, err
}

func checkInMetadata(req CheckInRequest) map[string]string {
	meta := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Code != "" {
		meta["via"] = "code"
	} else {
		meta["via"] = "token"
	}
	if req.Location != nil {
		meta["location_source"] = string(req.Location.Source)
		if req.Location.Warning != "" {
			meta["location_warning"] = req.Location.Warning
		}
	}
	return meta
}
