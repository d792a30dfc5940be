package attendance

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
)

// Session statuses. Scheduled and active are derived from the clock;
// closed is an explicit teacher action and is terminal, as is expired.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionExpired   SessionStatus = "expired"
	SessionClosed    SessionStatus = "closed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionExpired || s == SessionClosed
}

type Session struct {
	ID              string        `json:"id"`
	CourseID        string        `json:"course_id"`
	StartsAt        time.Time     `json:"starts_at"` // UTC
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"` // UTC
}

func (s Session) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// EffectiveStatus derives the session status at `now`. A stored terminal
// status always wins; otherwise the clock decides.
func (s Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status.Terminal() {
		return s.Status
	}
	switch {
	case now.Before(s.StartsAt):
		return SessionScheduled
	case now.Before(s.EndsAt()):
		return SessionActive
	default:
		return SessionExpired
	}
}

// Open reports whether check-ins are currently accepted.
func (s Session) Open(now time.Time) bool {
	return s.EffectiveStatus(now) == SessionActive
}

// FirstPhaseKey is a single-use code establishing initial presence for one
// student in a session.
type FirstPhaseKey struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Code            string    `json:"code"`
	IsUsed          bool      `json:"is_used"`
	UsedByStudentID string    `json:"used_by_student_id,omitempty"`
	UsedAt          time.Time `json:"used_at,omitempty"` // UTC
}

// SecondPhaseKey is a short-lived shared code confirming continued physical
// presence. Unlike first-phase keys it may be used by every student in the
// room until it expires; teachers rotate it at will.
type SecondPhaseKey struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Code       string    `json:"code"`
	ValidUntil time.Time `json:"valid_until"` // UTC
}

func (k SecondPhaseKey) Expired(now time.Time) bool {
	return now.After(k.ValidUntil)
}

// Record is the per-(session, student) attendance row. SecondPhaseCompleted
// transitions false→true exactly once and never reverts.
type Record struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"session_id"`
	StudentID            string    `json:"student_id"`
	FirstPhaseKeyID      string    `json:"first_phase_key_id"`
	AttendanceTime       time.Time `json:"attendance_time"` // UTC
	SecondPhaseCompleted bool      `json:"second_phase_completed"`
}

// NewSession contains information needed to schedule an attendance session.
type NewSession struct {
	CourseID        string    `json:"course_id" validate:"required,uuid4"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=5,max=480"`
	// number of single-use first-phase keys to mint along with the session;
	// defaults to the course roster size when 0.
	KeyCount int `json:"key_count" validate:"omitempty,min=1,max=500"`
}

func (ns *NewSession) Validate() error {
	return core.Validate.Struct(ns)
}

// CheckInResult reports the outcome of a successful (or idempotent)
// check-in phase.
type CheckInResult struct {
	Record Record `json:"record"`
	// informational no-op outcomes; not errors
	AlreadyRecorded  bool `json:"already_recorded,omitempty"`
	AlreadyCompleted bool `json:"already_completed,omitempty"`
}

type QueryFilter struct {
	CourseID string    `query:"course_id"`
	From     time.Time `query:"from"`
	To       time.Time `query:"to"`
	Status   string    `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.CourseID == "" && qf.From.IsZero() && qf.To.IsZero() && qf.Status == ""
}

// EnrollmentService is the slice of the course service the attendance engine
// needs: enrollment checks and course rosters. course.Service satisfies it.
type EnrollmentService interface {
	IsStudentEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	CourseRoster(ctx context.Context, courseID string) ([]course.Enrollment, error)
}

// key code alphabet excludes easily-confused characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	firstPhaseCodeLen  = 8
	secondPhaseCodeLen = 6
)

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func generateCode(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
