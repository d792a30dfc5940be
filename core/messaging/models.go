package messaging

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
)

// Announcement is a one-to-many broadcast: to a course roster when CourseID
// is set, to the whole school when it is null.
type Announcement struct {
	ID       string      `json:"id"`
	SenderID string      `json:"sender_id"`
	CourseID null.String `json:"course_id"`
	Subject  string      `json:"subject"`
	Body     string      `json:"body"`
	SentAt   time.Time   `json:"sent_at"` // UTC
}

// AnnouncementRecipient tracks per-user read state of an announcement.
type AnnouncementRecipient struct {
	AnnouncementID string    `json:"announcement_id"`
	UserID         string    `json:"user_id"`
	ReadAt         null.Time `json:"read_at"`
}

// AnnouncementItem is an announcement as one recipient sees it.
type AnnouncementItem struct {
	Announcement
	ReadAt null.Time `json:"read_at"`
}

// PrivateMessage is a direct message between two users. Replies carry the
// root message's ID in ParentID; a null ParentID marks a thread root.
type PrivateMessage struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	ParentID    null.String `json:"parent_id"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	SentAt      time.Time   `json:"sent_at"` // UTC
	ReadAt      null.Time   `json:"read_at"`
}

// Participant reports whether userID is on either end of the message.
func (m PrivateMessage) Participant(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// NewAnnouncement contains information needed to send an Announcement.
type NewAnnouncement struct {
	CourseID null.String `json:"course_id"`
	Subject  string      `json:"subject" validate:"required,max=255"`
	Body     string      `json:"body" validate:"required"`
}

func (na *NewAnnouncement) Validate() error {
	na.Subject = core.CleanString(na.Subject)
	na.Body = core.CleanString(na.Body)
	return core.Validate.Struct(na)
}

// NewPrivateMessage contains information needed to send a PrivateMessage.
// Thread roots need a recipient and a subject; replies derive both from the
// thread.
type NewPrivateMessage struct {
	RecipientID string      `json:"recipient_id" validate:"omitempty,uuid4"`
	ParentID    null.String `json:"parent_id"`
	Subject     string      `json:"subject" validate:"max=255"`
	Body        string      `json:"body" validate:"required"`
}

func (nm *NewPrivateMessage) Validate() error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Body = core.CleanString(nm.Body)
	if err := core.Validate.Struct(nm); err != nil {
		return err
	}
	if !nm.ParentID.Valid {
		var fldErrs []core.FieldError
		if nm.RecipientID == "" {
			fldErrs = append(fldErrs, core.FieldError{Field: "recipient_id", Error: "recipient is required"})
		}
		if nm.Subject == "" {
			fldErrs = append(fldErrs, core.FieldError{Field: "subject", Error: "subject is required"})
		}
		if len(fldErrs) > 0 {
			return core.NewValidationError(nil, fldErrs...)
		}
	}
	return nil
}

// QueryFilter filters a recipient's announcement listing.
type QueryFilter struct {
	CourseID string `query:"course_id"`
	Unread   *bool  `query:"unread"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.CourseID == "" && qf.Unread == nil
}

// UnreadCounts backs the navigation badge.
type UnreadCounts struct {
	Announcements int `json:"announcements"`
	Messages      int `json:"messages"`
}
