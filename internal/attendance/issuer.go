package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/geo"
	"rollcall/internal/metrics"
)

const maxCodeAttempts = 5

var errCodeSpaceExhausted = errors.New("no free numeric code")

// CreateSession opens a check-in window for a course with the geofence
// centred on the issuer's resolved location.
func (s *Service) CreateSession(ctx context.Context, actor Actor, courseID string, loc *geo.Reading) (*Session, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, newError(KindValidation, "course id required")
	}
	if !actor.Role.Staff() {
		return nil, newError(KindUnauthorized, "role %q cannot open sessions", actor.Role)
	}
	if loc == nil {
		return nil, newError(KindLocationUnavailable, "issuer location unavailable")
	}
	if err := s.validate.Struct(loc); err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "invalid issuer location", Err: err}
	}

	course, err := s.course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeScope(actor, course); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		now := s.now()
		// Expired sessions still marked active would otherwise hold the
		// course slot and their numeric code.
		if _, err := s.closeExpired(ctx, now); err != nil {
			return nil, err
		}

		token, err := newToken()
		if err != nil {
			return nil, transient("create session", err)
		}
		code, err := s.newCode()
		if err != nil {
			return nil, transient("create session", err)
		}
		sess := Session{
			ID:          uuid.NewString(),
			CourseID:    course.ID,
			IssuedBy:    actor.ID,
			Token:       token,
			NumericCode: code,
			StartTime:   now,
			ExpiresAt:   now.Add(s.ttl),
			IsActive:    true,
			AllowedLocation: Geofence{
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
				RadiusM:   s.radius,
				AccuracyM: loc.Accuracy,
				Address:   loc.Address,
			},
			StrictLocation: true,
		}

		inserted, err := s.repo.InsertSession(ctx, sess)
		if err != nil {
			return nil, transient("create session", err)
		}
		if inserted {
			metrics.SessionsOpened.Inc()
			s.logger.Info("session opened", "session", sess.ID, "course", course.ID,
				"issued_by", actor.ID, "expires_at", sess.ExpiresAt, "source", loc.Source)
			if s.timer != nil {
				s.timer.Schedule(sess)
			}
			return &sess, nil
		}

		open, err := s.repo.OpenSessionForCourse(ctx, course.ID)
		if err != nil {
			return nil, transient("create session", err)
		}
		if open != nil {
			return nil, newError(KindConflict, "course %s already has an open session", course.Code)
		}
		s.logger.Debug("numeric code collision, retrying", "course", course.ID, "attempt", attempt+1)
	}
	return nil, transient("create session", errCodeSpaceExhausted)
}

// EndSession closes a session immediately. Ending a closed session returns
// its terminal state unchanged.
func (s *Service) EndSession(ctx context.Context, actor Actor, id string) (*Session, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == RoleAdmin, actor.ID != "" && actor.ID == sess.IssuedBy:
	case actor.Role == RoleLecturer:
		course, err := s.course(ctx, sess.CourseID)
		if err != nil {
			return nil, err
		}
		if err := authorizeScope(actor, course); err != nil {
			return nil, err
		}
	default:
		return nil, newError(KindUnauthorized, "only the issuer or staff can end a session")
	}

	now := s.now()
	closed, err := s.repo.CloseSession(ctx, sess.ID, now, EndReasonManual)
	if err != nil {
		return nil, transient("end session", err)
	}
	if !closed {
		return s.Session(ctx, id)
	}
	metrics.SessionsClosed.WithLabelValues(EndReasonManual).Inc()
	s.logger.Info("session ended", "session", sess.ID, "course", sess.CourseID, "by", actor.ID)
	sess.IsActive = false
	sess.EndedAt = &now
	sess.EndReason = EndReasonManual
	return sess, nil
}

// closeExpired is the lifecycle transition shared by the sweep and the issuer.
func (s *Service) closeExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.repo.CloseExpired(ctx, now)
	if err != nil {
		return nil, transient("close expired sessions", err)
	}
	if len(ids) > 0 {
		metrics.SessionsClosed.WithLabelValues(EndReasonExpired).Add(float64(len(ids)))
		for _, id := range ids {
			s.logger.Info("session expired", "session", id)
		}
	}
	return ids, nil
}
