package attendance

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type (
	// StudentReport aggregates one student's attendance over a course and
	// date range. Only sessions that have reached a terminal state (or whose
	// scheduled end has passed) count; a session counts as attended when
	// both check-in phases were completed.
	StudentReport struct {
		CourseID         string  `json:"course_id"`
		StudentID        string  `json:"student_id"`
		TotalSessions    int     `json:"total_sessions"`
		AttendedSessions int     `json:"attended_sessions"`
		AttendanceRate   float64 `json:"attendance_rate"`
		MeetsRequirement bool    `json:"meets_requirement"`
	}

	CourseReport struct {
		CourseID      string          `json:"course_id"`
		From          time.Time       `json:"from"`
		To            time.Time       `json:"to"`
		TotalSessions int             `json:"total_sessions"`
		Students      []StudentReport `json:"students"`
	}
)

// Rate returns the attendance percentage rounded to 1 decimal.
// A period without countable sessions cannot be failed: rate is 100.
func Rate(attended, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(attended)/float64(total)*1000) / 10
}

// countableSessions returns the sessions in range that are terminal or whose
// scheduled end has passed.
func (svc *service) countableSessions(ctx context.Context, courseID string, from, to time.Time) ([]Session, error) {
	sessions, err := svc.repo.FilterSessions(ctx, QueryFilter{CourseID: courseID, From: from, To: to})
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	now := svc.now()
	countable := sessions[:0]
	for _, sess := range sessions {
		if sess.Status.Terminal() || now.After(sess.EndsAt()) {
			countable = append(countable, sess)
		}
	}
	return countable, nil
}

func (svc *service) StudentReport(ctx context.Context, courseID, studentID string, from, to time.Time, settings core.Settings) (StudentReport, error) {
	sessions, err := svc.countableSessions(ctx, courseID, from, to)
	if err != nil {
		return StudentReport{}, err
	}
	records, err := svc.repo.QueryStudentRecords(ctx, courseID, studentID)
	if err != nil {
		return StudentReport{}, errors.Wrap(err, "querying records")
	}

	attendedBySession := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.SecondPhaseCompleted {
			attendedBySession[rec.SessionID] = true
		}
	}
	var attended int
	for _, sess := range sessions {
		if attendedBySession[sess.ID] {
			attended++
		}
	}

	rate := Rate(attended, len(sessions))
	return StudentReport{
		CourseID:         courseID,
		StudentID:        studentID,
		TotalSessions:    len(sessions),
		AttendedSessions: attended,
		AttendanceRate:   rate,
		MeetsRequirement: rate >= 100-settings.MaxAbsencePercent,
	}, nil
}

func (svc *service) CourseReport(ctx context.Context, courseID string, from, to time.Time, settings core.Settings) (CourseReport, error) {
	sessions, err := svc.countableSessions(ctx, courseID, from, to)
	if err != nil {
		return CourseReport{}, err
	}
	roster, err := svc.enrollments.CourseRoster(ctx, courseID)
	if err != nil {
		return CourseReport{}, errors.Wrap(err, "loading course roster")
	}

	report := CourseReport{
		CourseID:      courseID,
		From:          from,
		To:            to,
		TotalSessions: len(sessions),
		Students:      make([]StudentReport, 0, len(roster)),
	}
	for _, enr := range roster {
		if !enr.IsActive {
			continue
		}
		sr, err := svc.StudentReport(ctx, courseID, enr.StudentID, from, to, settings)
		if err != nil {
			return CourseReport{}, err
		}
		report.Students = append(report.Students, sr)
	}
	return report, nil
}
