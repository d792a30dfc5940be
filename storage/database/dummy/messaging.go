package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/messaging"
)

type messagingRepository struct {
	db *messagingTable
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{db: db.messaging}
}

func (repo *messagingRepository) CreateAnnouncement(_ context.Context, ann messaging.Announcement, recipientIDs []string) (messaging.Announcement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ann.ID = uuid.NewString()
	repo.db.announcements[ann.ID] = &ann

	recs := make(map[string]*messaging.AnnouncementRecipient, len(recipientIDs))
	for _, userID := range recipientIDs {
		recs[userID] = &messaging.AnnouncementRecipient{AnnouncementID: ann.ID, UserID: userID}
	}
	repo.db.recipients[ann.ID] = recs
	return ann, nil
}

func (repo *messagingRepository) GetAnnouncementByID(_ context.Context, id string) (messaging.Announcement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ann, ok := repo.db.announcements[id]; ok {
		return *ann, nil
	}
	return messaging.Announcement{}, messaging.ErrAnnouncementNotFound
}

func (repo *messagingRepository) QueryUserAnnouncements(_ context.Context, userID string, filter messaging.QueryFilter) ([]messaging.AnnouncementItem, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var items []messaging.AnnouncementItem
	for annID, recs := range repo.db.recipients {
		rec, ok := recs[userID]
		if !ok {
			continue
		}
		ann, ok := repo.db.announcements[annID]
		if !ok {
			continue
		}
		if filter.CourseID != "" && ann.CourseID.String != filter.CourseID {
			continue
		}
		if filter.Unread != nil && rec.ReadAt.Valid == *filter.Unread {
			continue
		}
		items = append(items, messaging.AnnouncementItem{Announcement: *ann, ReadAt: rec.ReadAt})
	}
	// newest first
	sort.Slice(items, func(i, j int) bool { return items[i].SentAt.After(items[j].SentAt) })
	return items, nil
}

func (repo *messagingRepository) MarkAnnouncementRead(_ context.Context, announcementID, userID string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec, ok := repo.db.recipients[announcementID][userID]
	if !ok {
		return messaging.ErrAnnouncementNotFound
	}
	if !rec.ReadAt.Valid {
		rec.ReadAt = null.TimeFrom(at)
	}
	return nil
}

func (repo *messagingRepository) CreateMessage(_ context.Context, msg messaging.PrivateMessage) (messaging.PrivateMessage, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	msg.ID = uuid.NewString()
	repo.db.messages[msg.ID] = &msg
	return msg, nil
}

func (repo *messagingRepository) GetMessageByID(_ context.Context, id string) (messaging.PrivateMessage, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if msg, ok := repo.db.messages[id]; ok {
		return *msg, nil
	}
	return messaging.PrivateMessage{}, messaging.ErrMessageNotFound
}

func (repo *messagingRepository) QueryThread(_ context.Context, rootID string) ([]messaging.PrivateMessage, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var msgs []messaging.PrivateMessage
	for _, msg := range repo.db.messages {
		if msg.ID == rootID || msg.ParentID.String == rootID {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	return msgs, nil
}

func (repo *messagingRepository) QueryUserMessages(_ context.Context, userID string, unread *bool) ([]messaging.PrivateMessage, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var msgs []messaging.PrivateMessage
	for _, msg := range repo.db.messages {
		if msg.ParentID.Valid || !msg.Participant(userID) {
			continue
		}
		if unread != nil && repo.threadHasUnread(msg.ID, userID) != *unread {
			continue
		}
		msgs = append(msgs, *msg)
	}
	// newest first
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAt.After(msgs[j].SentAt) })
	return msgs, nil
}

func (repo *messagingRepository) threadHasUnread(rootID, userID string) bool {
	for _, msg := range repo.db.messages {
		inThread := msg.ID == rootID || msg.ParentID.String == rootID
		if inThread && msg.RecipientID == userID && !msg.ReadAt.Valid {
			return true
		}
	}
	return false
}

func (repo *messagingRepository) MarkMessageRead(_ context.Context, id string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	msg, ok := repo.db.messages[id]
	if !ok {
		return messaging.ErrMessageNotFound
	}
	if !msg.ReadAt.Valid {
		msg.ReadAt = null.TimeFrom(at)
	}
	return nil
}

func (repo *messagingRepository) CountUnread(_ context.Context, userID string) (messaging.UnreadCounts, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var counts messaging.UnreadCounts
	for _, recs := range repo.db.recipients {
		if rec, ok := recs[userID]; ok && !rec.ReadAt.Valid {
			counts.Announcements++
		}
	}
	for _, msg := range repo.db.messages {
		if msg.RecipientID == userID && !msg.ReadAt.Valid {
			counts.Messages++
		}
	}
	return counts, nil
}
