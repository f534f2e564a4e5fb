package attendance

import (
	"context"
	"time"

	"rollcall/internal/feed"
)

const (
	maxActivity    = 100
	publishTimeout = 2 * time.Second
)

// LiveCount is the authoritative number of records for a session.
func (s *Service) LiveCount(ctx context.Context, sessionID string) (int, error) {
	return s.CountForSession(ctx, sessionID)
}

// RecentActivity returns the newest ledger writes, newest first. The feed
// backend is read first; the ledger answers when the backend fails.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]feed.Event, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxActivity {
		limit = maxActivity
	}
	if s.feed != nil {
		evts, err := s.feed.Recent(ctx, limit)
		if err == nil {
			return evts, nil
		}
		s.logger.Warn("activity feed unavailable, reading ledger", "error", err)
	}
	return s.activityFromLedger(ctx, limit)
}

func (s *Service) activityFromLedger(ctx context.Context, limit int) ([]feed.Event, error) {
	recs, courses, err := s.repo.RecentRecords(ctx, limit)
	if err != nil {
		return nil, transient("recent activity", err)
	}
	evts := make([]feed.Event, 0, len(recs))
	for i, rec := range recs {
		evts = append(evts, eventFor(courses[i], rec))
	}
	return evts, nil
}

// WarmFeed seeds an empty feed backend from the ledger, oldest first so the
// backend keeps newest-first order.
func (s *Service) WarmFeed(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}
	head, err := s.feed.Recent(ctx, 1)
	if err != nil {
		return err
	}
	if len(head) > 0 {
		return nil
	}
	evts, err := s.activityFromLedger(ctx, maxActivity)
	if err != nil {
		return err
	}
	for i := len(evts) - 1; i >= 0; i-- {
		if err := s.feed.Append(ctx, evts[i]); err != nil {
			return err
		}
	}
	s.logger.Debug("activity feed warmed", "events", len(evts))
	return nil
}

// publish mirrors a ledger write into the feed. Failures never fail the write.
func (s *Service) publish(ctx context.Context, sess *Session, rec Record) {
	if s.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.feed.Append(ctx, eventFor(sess.CourseID, rec)); err != nil {
		s.logger.Warn("activity feed append failed", "session", rec.SessionID, "error", err)
	}
}

func eventFor(courseID string, rec Record) feed.Event {
	return feed.Event{
		SessionID: rec.SessionID,
		CourseID:  courseID,
		StudentID: rec.StudentID,
		At:        rec.ScannedAt,
		Manual:    rec.MarkedManually,
		MarkedBy:  rec.MarkedBy,
	}
}
