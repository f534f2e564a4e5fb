package attendance

import (
	"time"
)

// Role is the capability of the caller as asserted by the auth layer.
type Role string

const (
	RoleStudent  Role = "student"
	RoleHOC      Role = "hoc"
	RoleLecturer Role = "lecturer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleHOC, RoleLecturer, RoleAdmin:
		return true
	}
	return false
}

// Staff reports whether the role may open sessions and mark attendance.
func (r Role) Staff() bool {
	return r == RoleHOC || r == RoleLecturer || r == RoleAdmin
}

// Actor is the identity performing an operation.
type Actor struct {
	ID         string
	Role       Role
	Department string
	Level      string
}

// Course is read from the directory; sessions are scoped to it.
type Course struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Department string `json:"department"`
	Level      string `json:"level"`
}

// Student is read from the directory. Enrollment is implied by matching
// department and level.
type Student struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MatricNo   string `json:"matric_no"`
	Department string `json:"department"`
	Level      string `json:"level"`
}

// EnrolledIn reports whether the student belongs to the course cohort.
func (s Student) EnrolledIn(c Course) bool {
	return s.Department == c.Department && s.Level == c.Level
}

// Geofence is the admission area snapshotted from the issuer's location.
type Geofence struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   float64 `json:"radius_m"`
	AccuracyM float64 `json:"accuracy_m"`
	Address   string  `json:"address,omitempty"`
}

// Session end reasons.
const (
	EndReasonManual  = "manual"
	EndReasonExpired = "expired"
)

// Session is a time-boxed check-in window for a course.
type Session struct {
	ID              string     `json:"id"`
	CourseID        string     `json:"course_id"`
	IssuedBy        string     `json:"issued_by"`
	Token           string     `json:"token"`
	NumericCode     string     `json:"numeric_code"`
	StartTime       time.Time  `json:"start_time"`
	ExpiresAt       time.Time  `json:"expires_at"`
	IsActive        bool       `json:"is_active"`
	AllowedLocation Geofence   `json:"allowed_location"`
	StrictLocation  bool       `json:"strict_location"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
}

// OpenAt reports whether the session admits check-ins at now.
func (s Session) OpenAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Record is one attendance entry for a (session, student) pair.
type Record struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	StudentID      string            `json:"student_id"`
	ScannedAt      time.Time         `json:"scanned_at"`
	MarkedManually bool              `json:"marked_manually"`
	ManualReason   string            `json:"manual_reason,omitempty"`
	MarkedBy       string            `json:"marked_by,omitempty"`
	DistanceM      *float64          `json:"distance_m,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Reason explains an admission decision.
type Reason string

const (
	ReasonAccepted            Reason = "accepted"
	ReasonDuplicate           Reason = "duplicate"
	ReasonExpired             Reason = "expired"
	ReasonOutOfRange          Reason = "out_of_range"
	ReasonNotFound            Reason = "not_found"
	ReasonUnauthorized        Reason = "unauthorized"
	ReasonLocationUnavailable Reason = "location_unavailable"
	ReasonValidation          Reason = "validation"
)

// Decision is the outcome of a check-in or manual mark. Record is the new
// entry when accepted, or the original one for duplicates.
type Decision struct {
	Accepted  bool     `json:"accepted"`
	Reason    Reason   `json:"reason"`
	Record    *Record  `json:"record,omitempty"`
	Session   *Session `json:"-"`
	DistanceM *float64 `json:"distance_m,omitempty"`
}

// Duplicate reports whether the attempt hit an existing record.
func (d Decision) Duplicate() bool {
	return d.Reason == ReasonDuplicate
}

// Summary is a student's attendance over a scope of sessions.
type Summary struct {
	StudentID  string  `json:"student_id"`
	CourseID   string  `json:"course_id,omitempty"`
	Sessions   int     `json:"sessions"`
	Attended   int     `json:"attended"`
	Percentage float64 `json:"percentage"`
}
