package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
)

var (
	sessionColumns   = []string{"id", "course_id", "starts_at", "duration_minutes", "status", "created_at"}
	firstKeyColumns  = []string{"id", "session_id", "code", "is_used", "used_by_student_id", "used_at"}
	secondKeyColumns = []string{"id", "session_id", "code", "valid_until"}
	recordColumns    = []string{"id", "session_id", "student_id", "first_phase_key_id", "attendance_time", "second_phase_completed"}
)

type (
	sessionRow struct {
		ID              string                   `db:"id"`
		CourseID        string                   `db:"course_id"`
		StartsAt        time.Time                `db:"starts_at"`
		DurationMinutes int                      `db:"duration_minutes"`
		Status          attendance.SessionStatus `db:"status"`
		CreatedAt       time.Time                `db:"created_at"`
	}

	firstKeyRow struct {
		ID              string         `db:"id"`
		SessionID       string         `db:"session_id"`
		Code            string         `db:"code"`
		IsUsed          bool           `db:"is_used"`
		UsedByStudentID sql.NullString `db:"used_by_student_id"`
		UsedAt          sql.NullTime   `db:"used_at"`
	}

	secondKeyRow struct {
		ID         string    `db:"id"`
		SessionID  string    `db:"session_id"`
		Code       string    `db:"code"`
		ValidUntil time.Time `db:"valid_until"`
	}

	recordRow struct {
		ID                   string    `db:"id"`
		SessionID            string    `db:"session_id"`
		StudentID            string    `db:"student_id"`
		FirstPhaseKeyID      string    `db:"first_phase_key_id"`
		AttendanceTime       time.Time `db:"attendance_time"`
		SecondPhaseCompleted bool      `db:"second_phase_completed"`
	}
)

func (r sessionRow) toDomain() attendance.Session {
	return attendance.Session(r)
}

func (r firstKeyRow) toDomain() attendance.FirstPhaseKey {
	key := attendance.FirstPhaseKey{
		ID:        r.ID,
		SessionID: r.SessionID,
		Code:      r.Code,
		IsUsed:    r.IsUsed,
	}
	if r.UsedByStudentID.Valid {
		key.UsedByStudentID = r.UsedByStudentID.String
	}
	if r.UsedAt.Valid {
		key.UsedAt = r.UsedAt.Time
	}
	return key
}

func (r secondKeyRow) toDomain() attendance.SecondPhaseKey {
	return attendance.SecondPhaseKey(r)
}

func (r recordRow) toDomain() attendance.Record {
	return attendance.Record(r)
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) CreateSession(ctx context.Context, s attendance.Session) (attendance.Session, error) {
	s.ID = uuid.NewString()
	query, args, err := psql.Insert("attendance_session").
		Columns(sessionColumns...).
		Values(s.ID, s.CourseID, s.StartsAt, s.DurationMinutes, s.Status, s.CreatedAt).
		ToSql()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo *attendanceRepository) GetSessionByID(ctx context.Context, id string) (attendance.Session, error) {
	query, args, err := psql.Select(sessionColumns...).From("attendance_session").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "building query")
	}
	var row sessionRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Session{}, attendance.ErrSessionNotFound
		}
		return attendance.Session{}, errors.Wrap(err, "querying session")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) FilterSessions(ctx context.Context, filter attendance.QueryFilter, ordering ...core.DBOrdering) ([]attendance.Session, error) {
	builder := psql.Select(sessionColumns...).From("attendance_session")

	if filter.CourseID != "" {
		builder = builder.Where(sq.Eq{"course_id": filter.CourseID})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"starts_at": filter.From.UTC()})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.LtOrEq{"starts_at": filter.To.UTC()})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	builder = orderBy(builder, "starts_at ASC", ordering)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []sessionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]attendance.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toDomain())
	}
	return sessions, nil
}

func (repo *attendanceRepository) SetSessionStatus(ctx context.Context, id string, status attendance.SessionStatus) error {
	query, args, err := psql.Update("attendance_session").Set("status", status).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.ErrSessionNotFound
	}
	return nil
}

func (repo *attendanceRepository) CreateFirstPhaseKeys(ctx context.Context, keys []attendance.FirstPhaseKey) ([]attendance.FirstPhaseKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	builder := psql.Insert("first_phase_key").Columns("id", "session_id", "code")
	created := make([]attendance.FirstPhaseKey, 0, len(keys))
	for _, key := range keys {
		key.ID = uuid.NewString()
		builder = builder.Values(key.ID, key.SessionID, key.Code)
		created = append(created, key)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return nil, errors.Wrap(err, "inserting first-phase keys")
	}
	return created, nil
}

func (repo *attendanceRepository) GetFirstPhaseKeyByCode(ctx context.Context, code string) (attendance.FirstPhaseKey, error) {
	query, args, err := psql.Select(firstKeyColumns...).From("first_phase_key").Where(sq.Eq{"code": code}).ToSql()
	if err != nil {
		return attendance.FirstPhaseKey{}, errors.Wrap(err, "building query")
	}
	var row firstKeyRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.FirstPhaseKey{}, attendance.ErrKeyNotFound
		}
		return attendance.FirstPhaseKey{}, errors.Wrap(err, "querying first-phase key")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) QueryFirstPhaseKeys(ctx context.Context, sessionID string) ([]attendance.FirstPhaseKey, error) {
	query, args, err := psql.Select(firstKeyColumns...).From("first_phase_key").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("code ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []firstKeyRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying first-phase keys")
	}
	keys := make([]attendance.FirstPhaseKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.toDomain())
	}
	return keys, nil
}

// ConsumeFirstPhaseKey burns the key and inserts the record in one
// transaction. The conditional update rejects a concurrently used key and the
// unique (session_id, student_id) index rejects a concurrent duplicate record.
func (repo *attendanceRepository) ConsumeFirstPhaseKey(ctx context.Context, key attendance.FirstPhaseKey, studentID string, at time.Time) (attendance.Record, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := psql.Update("first_phase_key").
		Set("is_used", true).
		Set("used_by_student_id", studentID).
		Set("used_at", at).
		Where(sq.Eq{"id": key.ID, "is_used": false}).
		ToSql()
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "building query")
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "consuming first-phase key")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.Record{}, attendance.ErrKeyAlreadyUsed
	}

	rec := attendance.Record{
		ID:              uuid.NewString(),
		SessionID:       key.SessionID,
		StudentID:       studentID,
		FirstPhaseKeyID: key.ID,
		AttendanceTime:  at,
	}
	query, args, err = psql.Insert("attendance_record").
		Columns(recordColumns...).
		Values(rec.ID, rec.SessionID, rec.StudentID, rec.FirstPhaseKeyID, rec.AttendanceTime, rec.SecondPhaseCompleted).
		ToSql()
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "building query")
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return attendance.Record{}, attendance.ErrAlreadyRecorded
		}
		return attendance.Record{}, errors.Wrap(err, "inserting attendance record")
	}

	if err = tx.Commit(); err != nil {
		return attendance.Record{}, errors.Wrap(err, "committing tx")
	}
	return rec, nil
}

func (repo *attendanceRepository) CreateSecondPhaseKey(ctx context.Context, key attendance.SecondPhaseKey) (attendance.SecondPhaseKey, error) {
	key.ID = uuid.NewString()
	query, args, err := psql.Insert("second_phase_key").
		Columns(secondKeyColumns...).
		Values(key.ID, key.SessionID, key.Code, key.ValidUntil).
		ToSql()
	if err != nil {
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "inserting second-phase key")
	}
	return key, nil
}

func (repo *attendanceRepository) GetSecondPhaseKey(ctx context.Context, sessionID, code string) (attendance.SecondPhaseKey, error) {
	query, args, err := psql.Select(secondKeyColumns...).From("second_phase_key").
		Where(sq.Eq{"session_id": sessionID, "code": code}).
		ToSql()
	if err != nil {
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "building query")
	}
	var row secondKeyRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.SecondPhaseKey{}, attendance.ErrKeyNotFound
		}
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "querying second-phase key")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) CurrentSecondPhaseKey(ctx context.Context, sessionID string, now time.Time) (attendance.SecondPhaseKey, error) {
	query, args, err := psql.Select(secondKeyColumns...).From("second_phase_key").
		Where(sq.Eq{"session_id": sessionID}).
		Where(sq.Gt{"valid_until": now}).
		OrderBy("valid_until DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "building query")
	}
	var row secondKeyRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.SecondPhaseKey{}, attendance.ErrKeyNotFound
		}
		return attendance.SecondPhaseKey{}, errors.Wrap(err, "querying second-phase key")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) CompleteSecondPhase(ctx context.Context, recordID string, at time.Time) (attendance.Record, error) {
	query, args, err := psql.Update("attendance_record").
		Set("second_phase_completed", true).
		Set("attendance_time", at).
		Where(sq.Eq{"id": recordID, "second_phase_completed": false}).
		ToSql()
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return attendance.Record{}, errors.Wrap(err, "completing second phase")
	}
	return repo.getRecordByID(ctx, recordID)
}

func (repo *attendanceRepository) getRecordByID(ctx context.Context, id string) (attendance.Record, error) {
	query, args, err := psql.Select(recordColumns...).From("attendance_record").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "building query")
	}
	var row recordRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Record{}, attendance.ErrRecordNotFound
		}
		return attendance.Record{}, errors.Wrap(err, "querying attendance record")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) GetRecord(ctx context.Context, sessionID, studentID string) (attendance.Record, error) {
	query, args, err := psql.Select(recordColumns...).From("attendance_record").
		Where(sq.Eq{"session_id": sessionID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "building query")
	}
	var row recordRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Record{}, attendance.ErrRecordNotFound
		}
		return attendance.Record{}, errors.Wrap(err, "querying attendance record")
	}
	return row.toDomain(), nil
}

func (repo *attendanceRepository) QuerySessionRecords(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	query, args, err := psql.Select(recordColumns...).From("attendance_record").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("attendance_time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []recordRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	recs := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toDomain())
	}
	return recs, nil
}

func (repo *attendanceRepository) QueryStudentRecords(ctx context.Context, courseID, studentID string) ([]attendance.Record, error) {
	query, args, err := psql.Select(
		"r.id", "r.session_id", "r.student_id", "r.first_phase_key_id", "r.attendance_time", "r.second_phase_completed",
	).
		From("attendance_record r").
		Join("attendance_session s ON s.id = r.session_id").
		Where(sq.Eq{"s.course_id": courseID, "r.student_id": studentID}).
		OrderBy("r.attendance_time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []recordRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	recs := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toDomain())
	}
	return recs, nil
}
