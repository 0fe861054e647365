package attendance

import "time"

// Session is a teacher-issued, course-scoped attendance opportunity bound to
// one opaque token.
type Session struct {
	ID           string     `json:"id"`
	Course       string     `json:"course"`
	CreatedBy    string     `json:"user_id"`
	TeacherEmail string     `json:"teacher_email,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Token        string     `json:"token"`
	QRValue      string     `json:"qr_value"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

// Retired reports whether the session was soft-expired by its owner.
func (s Session) Retired() bool { return s.RetiredAt != nil }

// Record is an accepted check-in. At most one exists per (session, student).
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Outcome of a successful ConfirmAttendance call.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
)

// CheckinRef identifies the session a student is checking in to. Token is
// authoritative; Course is honoured only when legacy course check-in is on.
type CheckinRef struct {
	Token  string
	Course string
}

// StudentAttendance is one line of a student's attendance history.
type StudentAttendance struct {
	Course      string    `json:"course"`
	SessionID   string    `json:"session_id"`
	ConfirmedAt time.Time `json:"timestamp"`
}

// CourseGroup is a student's history for one course.
type CourseGroup struct {
	Course      string              `json:"course"`
	Attendances []StudentAttendance `json:"attendances"`
}

// Attendee is a student who checked in to a session.
type Attendee struct {
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"user_id"`
	Email       string    `json:"email"`
	ConfirmedAt time.Time `json:"timestamp"`
}

// Absentee is an expected student without a check-in.
type Absentee struct {
	StudentID string `json:"user_id"`
	Email     string `json:"email"`
	Course    string `json:"course"`
	Missed    int    `json:"absences"`
}

// RosterEntry marks a student as expected to attend a course.
type RosterEntry struct {
	Course    string    `json:"course"`
	StudentID string    `json:"user_id"`
	Email     string    `json:"email"`
	AddedAt   time.Time `json:"added_at"`
}

// Fallback policies for the expected set when a course has no roster.
const (
	PolicyParticipants = "participants"
	PolicyAllStudents  = "students"
)

type studentRef struct {
	ID    string
	Email string
}
