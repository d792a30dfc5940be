package attendance

import "time"

// NewServiceMock returns a Service with a controllable clock.
func NewServiceMock(repo Repository, enrollments EnrollmentService, now func() time.Time) Service {
	return &service{
		repo:        repo,
		enrollments: enrollments,
		nowFunc:     now,
	}
}
