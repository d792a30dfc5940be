package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/messaging"
)

var (
	announcementColumns = []string{"id", "sender_id", "course_id", "subject", "body", "sent_at"}
	messageColumns      = []string{"id", "sender_id", "recipient_id", "parent_id", "subject", "body", "sent_at", "read_at"}
)

type (
	announcementRow struct {
		ID       string      `db:"id"`
		SenderID string      `db:"sender_id"`
		CourseID null.String `db:"course_id"`
		Subject  string      `db:"subject"`
		Body     string      `db:"body"`
		SentAt   time.Time   `db:"sent_at"`
	}

	announcementItemRow struct {
		announcementRow
		ReadAt null.Time `db:"read_at"`
	}

	messageRow struct {
		ID          string      `db:"id"`
		SenderID    string      `db:"sender_id"`
		RecipientID string      `db:"recipient_id"`
		ParentID    null.String `db:"parent_id"`
		Subject     string      `db:"subject"`
		Body        string      `db:"body"`
		SentAt      time.Time   `db:"sent_at"`
		ReadAt      null.Time   `db:"read_at"`
	}
)

func (r announcementRow) toDomain() messaging.Announcement {
	return messaging.Announcement(r)
}

func (r announcementItemRow) toDomain() messaging.AnnouncementItem {
	return messaging.AnnouncementItem{
		Announcement: r.announcementRow.toDomain(),
		ReadAt:       r.ReadAt,
	}
}

func (r messageRow) toDomain() messaging.PrivateMessage {
	return messaging.PrivateMessage(r)
}

type messagingRepository struct {
	db *sqlx.DB
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *sqlx.DB) messaging.Repository {
	return &messagingRepository{db: db}
}

// CreateAnnouncement persists the announcement and fans out one recipient row
// per user in a single transaction.
func (repo *messagingRepository) CreateAnnouncement(ctx context.Context, ann messaging.Announcement, recipientIDs []string) (messaging.Announcement, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return messaging.Announcement{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	ann.ID = uuid.NewString()
	query, args, err := psql.Insert("announcement").
		Columns(announcementColumns...).
		Values(ann.ID, ann.SenderID, ann.CourseID, ann.Subject, ann.Body, ann.SentAt).
		ToSql()
	if err != nil {
		return messaging.Announcement{}, errors.Wrap(err, "building query")
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return messaging.Announcement{}, errors.Wrap(err, "inserting announcement")
	}

	if len(recipientIDs) > 0 {
		builder := psql.Insert("announcement_recipient").Columns("announcement_id", "user_id")
		for _, userID := range recipientIDs {
			builder = builder.Values(ann.ID, userID)
		}
		query, args, err = builder.ToSql()
		if err != nil {
			return messaging.Announcement{}, errors.Wrap(err, "building query")
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return messaging.Announcement{}, errors.Wrap(err, "inserting recipients")
		}
	}

	if err = tx.Commit(); err != nil {
		return messaging.Announcement{}, errors.Wrap(err, "committing tx")
	}
	return ann, nil
}

func (repo *messagingRepository) GetAnnouncementByID(ctx context.Context, id string) (messaging.Announcement, error) {
	query, args, err := psql.Select(announcementColumns...).From("announcement").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.Announcement{}, errors.Wrap(err, "building query")
	}
	var row announcementRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return messaging.Announcement{}, messaging.ErrAnnouncementNotFound
		}
		return messaging.Announcement{}, errors.Wrap(err, "querying announcement")
	}
	return row.toDomain(), nil
}

func (repo *messagingRepository) QueryUserAnnouncements(ctx context.Context, userID string, filter messaging.QueryFilter) ([]messaging.AnnouncementItem, error) {
	builder := psql.Select(
		"a.id", "a.sender_id", "a.course_id", "a.subject", "a.body", "a.sent_at", "ar.read_at",
	).
		From("announcement a").
		Join("announcement_recipient ar ON ar.announcement_id = a.id").
		Where(sq.Eq{"ar.user_id": userID})

	if filter.CourseID != "" {
		builder = builder.Where(sq.Eq{"a.course_id": filter.CourseID})
	}
	if filter.Unread != nil {
		if *filter.Unread {
			builder = builder.Where(sq.Eq{"ar.read_at": nil})
		} else {
			builder = builder.Where(sq.NotEq{"ar.read_at": nil})
		}
	}
	builder = builder.OrderBy("a.sent_at DESC")

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []announcementItemRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	items := make([]messaging.AnnouncementItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (repo *messagingRepository) MarkAnnouncementRead(ctx context.Context, announcementID, userID string, at time.Time) error {
	query, args, err := psql.Update("announcement_recipient").
		Set("read_at", at).
		Where(sq.Eq{"announcement_id": announcementID, "user_id": userID, "read_at": nil}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	// 0 rows means unknown recipient or already read; both are fine
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "marking announcement read")
	}
	return nil
}

func (repo *messagingRepository) CreateMessage(ctx context.Context, msg messaging.PrivateMessage) (messaging.PrivateMessage, error) {
	msg.ID = uuid.NewString()
	query, args, err := psql.Insert("private_message").
		Columns(messageColumns...).
		Values(msg.ID, msg.SenderID, msg.RecipientID, msg.ParentID, msg.Subject, msg.Body, msg.SentAt, msg.ReadAt).
		ToSql()
	if err != nil {
		return messaging.PrivateMessage{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return messaging.PrivateMessage{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo *messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.PrivateMessage, error) {
	query, args, err := psql.Select(messageColumns...).From("private_message").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return messaging.PrivateMessage{}, errors.Wrap(err, "building query")
	}
	var row messageRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return messaging.PrivateMessage{}, messaging.ErrMessageNotFound
		}
		return messaging.PrivateMessage{}, errors.Wrap(err, "querying message")
	}
	return row.toDomain(), nil
}

func (repo *messagingRepository) QueryThread(ctx context.Context, rootID string) ([]messaging.PrivateMessage, error) {
	query, args, err := psql.Select(messageColumns...).From("private_message").
		Where(sq.Or{sq.Eq{"id": rootID}, sq.Eq{"parent_id": rootID}}).
		OrderBy("sent_at ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []messageRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying thread")
	}
	msgs := make([]messaging.PrivateMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toDomain())
	}
	return msgs, nil
}

func (repo *messagingRepository) QueryUserMessages(ctx context.Context, userID string, unread *bool) ([]messaging.PrivateMessage, error) {
	builder := psql.Select(
		"m.id", "m.sender_id", "m.recipient_id", "m.parent_id", "m.subject", "m.body", "m.sent_at", "m.read_at",
	).
		From("private_message m").
		Where(sq.Eq{"m.parent_id": nil}).
		Where(sq.Or{sq.Eq{"m.sender_id": userID}, sq.Eq{"m.recipient_id": userID}})

	if unread != nil {
		// a thread is unread when any message in it addressed to userID is
		unreadPred := sq.Expr(
			`EXISTS (SELECT 1 FROM private_message t
			 WHERE (t.id = m.id OR t.parent_id = m.id) AND t.recipient_id = ? AND t.read_at IS NULL)`, userID,
		)
		if *unread {
			builder = builder.Where(unreadPred)
		} else {
			builder = builder.Where(sq.Expr("NOT ?", unreadPred))
		}
	}
	builder = builder.OrderBy(
		"(SELECT max(t.sent_at) FROM private_message t WHERE t.id = m.id OR t.parent_id = m.id) DESC",
	)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []messageRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	msgs := make([]messaging.PrivateMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toDomain())
	}
	return msgs, nil
}

func (repo *messagingRepository) MarkMessageRead(ctx context.Context, id string, at time.Time) error {
	query, args, err := psql.Update("private_message").
		Set("read_at", at).
		Where(sq.Eq{"id": id, "read_at": nil}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "marking message read")
	}
	return nil
}

func (repo *messagingRepository) CountUnread(ctx context.Context, userID string) (messaging.UnreadCounts, error) {
	var counts messaging.UnreadCounts

	query, args, err := psql.Select("count(*)").From("announcement_recipient").
		Where(sq.Eq{"user_id": userID, "read_at": nil}).
		ToSql()
	if err != nil {
		return counts, errors.Wrap(err, "building query")
	}
	if err = repo.db.GetContext(ctx, &counts.Announcements, query, args...); err != nil {
		return counts, errors.Wrap(err, "counting unread announcements")
	}

	query, args, err = psql.Select("count(*)").From("private_message").
		Where(sq.Eq{"recipient_id": userID, "read_at": nil}).
		ToSql()
	if err != nil {
		return counts, errors.Wrap(err, "building query")
	}
	if err = repo.db.GetContext(ctx, &counts.Messages, query, args...); err != nil {
		return counts, errors.Wrap(err, "counting unread messages")
	}
	return counts, nil
}
