package messaging

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service with a controllable clock whose email
// notifications are sent synchronously so tests can assert on sent messages.
func NewServiceMock(repo Repository, enrollments EnrollmentService, directory Directory, mailSvc core.EmailService, now func() time.Time) Service {
	return &serviceMock{
		service: service{
			repo:        repo,
			enrollments: enrollments,
			directory:   directory,
			mailSvc:     mailSvc,
			nowFunc:     now,
		},
	}
}

func (svc *serviceMock) SendAnnouncement(ctx context.Context, sender user.User, na NewAnnouncement) (Announcement, error) {
	recipients, err := svc.audience(ctx, sender, na.CourseID)
	if err != nil {
		return Announcement{}, err
	}
	if len(recipients) == 0 {
		return Announcement{}, core.NewValidationError(ErrEmptyAudience)
	}
	ann, err := svc.repo.CreateAnnouncement(ctx, Announcement{
		SenderID: sender.ID,
		CourseID: na.CourseID,
		Subject:  na.Subject,
		Body:     na.Body,
		SentAt:   svc.now(),
	}, recipients)
	if err != nil {
		return Announcement{}, err
	}
	// run synchronously
	svc.sendAnnouncementMail(ann, recipients)
	return ann, nil
}
