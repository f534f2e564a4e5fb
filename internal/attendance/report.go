package attendance

import (
	"context"
	"math"
	"strings"
)

// StudentAttendance reports how many sessions in scope the student attended.
// An empty courseID covers every course of the student's department and level.
func (s *Service) StudentAttendance(ctx context.Context, studentID, courseID string) (Summary, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return Summary{}, newError(KindValidation, "student id required")
	}
	st, err := s.student(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}

	scope := Scope{Department: st.Department, Level: st.Level}
	if courseID = strings.TrimSpace(courseID); courseID != "" {
		if _, err := s.course(ctx, courseID); err != nil {
			return Summary{}, err
		}
		scope = Scope{CourseID: courseID}
	}

	sessions, attended, err := s.repo.Tally(ctx, st.ID, scope)
	if err != nil {
		return Summary{}, transient("attendance report", err)
	}
	return Summary{
		StudentID:  st.ID,
		CourseID:   courseID,
		Sessions:   sessions,
		Attended:   attended,
		Percentage: percentage(attended, sessions),
	}, nil
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}
