package messaging

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("user is not part of this conversation")
	ErrNotRecipient         = errors.New("only the recipient can mark a message read")
	ErrEmptyAudience        = errors.New("announcement has no recipients")
)

type (
	Repository interface {
		// CreateAnnouncement persists the announcement and its recipient rows
		// as one atomic unit.
		CreateAnnouncement(ctx context.Context, ann Announcement, recipientIDs []string) (Announcement, error)
		GetAnnouncementByID(ctx context.Context, id string) (Announcement, error)
		// QueryUserAnnouncements returns the announcements addressed to userID,
		// newest first, with that user's read state.
		QueryUserAnnouncements(ctx context.Context, userID string, filter QueryFilter) ([]AnnouncementItem, error)
		// MarkAnnouncementRead sets ReadAt once; marking an already-read row
		// is a no-op.
		MarkAnnouncementRead(ctx context.Context, announcementID, userID string, at time.Time) error

		CreateMessage(ctx context.Context, msg PrivateMessage) (PrivateMessage, error)
		GetMessageByID(ctx context.Context, id string) (PrivateMessage, error)
		// QueryThread returns the root and all its replies ordered by SentAt.
		QueryThread(ctx context.Context, rootID string) ([]PrivateMessage, error)
		// QueryUserMessages returns thread roots involving userID, newest
		// activity first.
		QueryUserMessages(ctx context.Context, userID string, unread *bool) ([]PrivateMessage, error)
		MarkMessageRead(ctx context.Context, id string, at time.Time) error
		CountUnread(ctx context.Context, userID string) (UnreadCounts, error)
	}

	// EnrollmentService is the slice of the course service used to resolve a
	// course announcement's audience. course.Service satisfies it.
	EnrollmentService interface {
		CourseRoster(ctx context.Context, courseID string) ([]course.Enrollment, error)
	}

	// Directory is the slice of the user service used to resolve audiences
	// and notification addresses. user.Service satisfies it.
	Directory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		Query(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error)
	}

	Service interface {
		// SendAnnouncement broadcasts to the course roster when na.CourseID is
		// set, to every active user otherwise. The sender is excluded from the
		// audience.
		SendAnnouncement(ctx context.Context, sender user.User, na NewAnnouncement) (Announcement, error)
		UserAnnouncements(ctx context.Context, userID string, filter QueryFilter) ([]AnnouncementItem, error)
		ReadAnnouncement(ctx context.Context, announcementID, userID string) (Announcement, error)

		// SendMessage starts a thread, or replies to one when nm.ParentID is
		// set; replies derive recipient and subject from the thread root.
		SendMessage(ctx context.Context, sender user.User, nm NewPrivateMessage) (PrivateMessage, error)
		Inbox(ctx context.Context, userID string, unread *bool) ([]PrivateMessage, error)
		Thread(ctx context.Context, userID, rootID string) ([]PrivateMessage, error)
		MarkMessageRead(ctx context.Context, userID, messageID string) error
		UnreadCounts(ctx context.Context, userID string) (UnreadCounts, error)
	}

	service struct {
		repo        Repository
		enrollments EnrollmentService
		directory   Directory
		mailSvc     core.EmailService
		nowFunc     func() time.Time // mockable
	}
)

var (
	_ Service           = (*service)(nil)
	_ EnrollmentService = (course.Service)(nil)
	_ Directory         = (user.Service)(nil)
)

func NewService(repo Repository, enrollments EnrollmentService, directory Directory, mailSvc core.EmailService) Service {
	return &service{
		repo:        repo,
		enrollments: enrollments,
		directory:   directory,
		mailSvc:     mailSvc,
		nowFunc:     time.Now,
	}
}

func (svc *service) now() time.Time { return svc.nowFunc().UTC() }

// audience resolves the recipient user IDs of an announcement.
func (svc *service) audience(ctx context.Context, sender user.User, courseID null.String) ([]string, error) {
	var ids []string
	if courseID.Valid {
		roster, err := svc.enrollments.CourseRoster(ctx, courseID.String)
		if err != nil {
			return nil, errors.Wrap(err, "loading course roster")
		}
		for _, enr := range roster {
			if enr.IsActive && enr.StudentID != sender.ID {
				ids = append(ids, enr.StudentID)
			}
		}
		return ids, nil
	}

	active := true
	users, err := svc.directory.Query(ctx, user.QueryFilter{IsActive: &active})
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	for _, usr := range users {
		if usr.ID != sender.ID {
			ids = append(ids, usr.ID)
		}
	}
	return ids, nil
}

func (svc *service) SendAnnouncement(ctx context.Context, sender user.User, na NewAnnouncement) (Announcement, error) {
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
		return Announcement{}, errors.Wrap(err, "creating announcement")
	}

	go svc.sendAnnouncementMail(ann, recipients)
	return ann, nil
}

// sendAnnouncementMail notifies recipients by email. Best effort; failures
// only cost the notification, never the announcement.
func (svc *service) sendAnnouncementMail(ann Announcement, recipientIDs []string) {
	ctx := context.Background()
	to := make([]mail.Address, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		usr, err := svc.directory.GetByID(ctx, id)
		if err != nil {
			continue
		}
		to = append(to, mail.Address{Name: usr.Name, Address: usr.Email})
	}
	if len(to) == 0 {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("New announcement: %s", ann.Subject),
		BodyStr: ann.Body,
	})
}

func (svc *service) UserAnnouncements(ctx context.Context, userID string, filter QueryFilter) ([]AnnouncementItem, error) {
	return svc.repo.QueryUserAnnouncements(ctx, userID, filter)
}

// ReadAnnouncement returns the announcement and records the read.
func (svc *service) ReadAnnouncement(ctx context.Context, announcementID, userID string) (Announcement, error) {
	ann, err := svc.repo.GetAnnouncementByID(ctx, announcementID)
	if err != nil {
		return Announcement{}, err
	}
	if err = svc.repo.MarkAnnouncementRead(ctx, announcementID, userID, svc.now()); err != nil {
		return Announcement{}, errors.Wrap(err, "marking announcement read")
	}
	return ann, nil
}

// threadRoot resolves the root of the thread msg belongs to.
func (svc *service) threadRoot(ctx context.Context, msg PrivateMessage) (PrivateMessage, error) {
	if !msg.ParentID.Valid {
		return msg, nil
	}
	return svc.repo.GetMessageByID(ctx, msg.ParentID.String)
}

func (svc *service) SendMessage(ctx context.Context, sender user.User, nm NewPrivateMessage) (PrivateMessage, error) {
	msg := PrivateMessage{
		SenderID:    sender.ID,
		RecipientID: nm.RecipientID,
		Subject:     nm.Subject,
		Body:        nm.Body,
		SentAt:      svc.now(),
	}

	if nm.ParentID.Valid {
		parent, err := svc.repo.GetMessageByID(ctx, nm.ParentID.String)
		if err != nil {
			if errors.Cause(err) == ErrMessageNotFound {
				return PrivateMessage{}, core.NewValidationError(err, core.FieldError{Field: "parent_id", Error: err.Error()})
			}
			return PrivateMessage{}, errors.Wrap(err, "finding parent message")
		}
		if !parent.Participant(sender.ID) {
			return PrivateMessage{}, core.NewValidationError(ErrNotParticipant)
		}
		root, err := svc.threadRoot(ctx, parent)
		if err != nil {
			return PrivateMessage{}, errors.Wrap(err, "finding thread root")
		}
		// replies stay flat under the root and go to the other party
		msg.ParentID = null.StringFrom(root.ID)
		if msg.RecipientID == "" || msg.RecipientID == sender.ID {
			if root.SenderID == sender.ID {
				msg.RecipientID = root.RecipientID
			} else {
				msg.RecipientID = root.SenderID
			}
		}
		if msg.Subject == "" {
			msg.Subject = "Re: " + root.Subject
		}
	} else {
		if _, err := svc.directory.GetByID(ctx, nm.RecipientID); err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return PrivateMessage{}, core.NewValidationError(err, core.FieldError{Field: "recipient_id", Error: err.Error()})
			}
			return PrivateMessage{}, errors.Wrap(err, "finding recipient")
		}
	}

	msg, err := svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return PrivateMessage{}, errors.Wrap(err, "creating message")
	}
	go svc.sendMessageMail(sender, msg)
	return msg, nil
}

func (svc *service) sendMessageMail(sender user.User, msg PrivateMessage) {
	recipient, err := svc.directory.GetByID(context.Background(), msg.RecipientID)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: recipient.Name, Address: recipient.Email}},
		Subject: fmt.Sprintf("New message from %s: %s", sender.Name, msg.Subject),
		BodyStr: msg.Body,
	})
}

func (svc *service) Inbox(ctx context.Context, userID string, unread *bool) ([]PrivateMessage, error) {
	return svc.repo.QueryUserMessages(ctx, userID, unread)
}

func (svc *service) Thread(ctx context.Context, userID, rootID string) ([]PrivateMessage, error) {
	root, err := svc.repo.GetMessageByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	root, err = svc.threadRoot(ctx, root)
	if err != nil {
		return nil, errors.Wrap(err, "finding thread root")
	}
	if !root.Participant(userID) {
		return nil, ErrNotParticipant
	}
	return svc.repo.QueryThread(ctx, root.ID)
}

func (svc *service) MarkMessageRead(ctx context.Context, userID, messageID string) error {
	msg, err := svc.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RecipientID != userID {
		return ErrNotRecipient
	}
	if msg.ReadAt.Valid {
		return nil
	}
	return svc.repo.MarkMessageRead(ctx, messageID, svc.now())
}

func (svc *service) UnreadCounts(ctx context.Context, userID string) (UnreadCounts, error) {
	return svc.repo.CountUnread(ctx, userID)
}
