package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
)

type attendanceRepository struct {
	db *attendanceTable
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

func (repo *attendanceRepository) CreateSession(_ context.Context, s attendance.Session) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = uuid.NewString()
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *attendanceRepository) GetSessionByID(_ context.Context, id string) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return *s, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) FilterSessions(_ context.Context, filter attendance.QueryFilter, _ ...core.DBOrdering) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var sessions []attendance.Session
	for _, s := range repo.db.sessions {
		if filter.CourseID != "" && s.CourseID != filter.CourseID {
			continue
		}
		if !filter.From.IsZero() && s.StartsAt.Before(filter.From.UTC()) {
			continue
		}
		if !filter.To.IsZero() && s.StartsAt.After(filter.To.UTC()) {
			continue
		}
		if filter.Status != "" && string(s.Status) != filter.Status {
			continue
		}
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartsAt.Before(sessions[j].StartsAt) })
	return sessions, nil
}

func (repo *attendanceRepository) SetSessionStatus(_ context.Context, id string, status attendance.SessionStatus) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.sessions[id]
	if !ok {
		return attendance.ErrSessionNotFound
	}
	s.Status = status
	return nil
}

func (repo *attendanceRepository) CreateFirstPhaseKeys(_ context.Context, keys []attendance.FirstPhaseKey) ([]attendance.FirstPhaseKey, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	created := make([]attendance.FirstPhaseKey, 0, len(keys))
	for _, key := range keys {
		key := key
		key.ID = uuid.NewString()
		repo.db.firstKeys[key.ID] = &key
		created = append(created, key)
	}
	return created, nil
}

func (repo *attendanceRepository) GetFirstPhaseKeyByCode(_ context.Context, code string) (attendance.FirstPhaseKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, key := range repo.db.firstKeys {
		if key.Code == code {
			return *key, nil
		}
	}
	return attendance.FirstPhaseKey{}, attendance.ErrKeyNotFound
}

func (repo *attendanceRepository) QueryFirstPhaseKeys(_ context.Context, sessionID string) ([]attendance.FirstPhaseKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var keys []attendance.FirstPhaseKey
	for _, key := range repo.db.firstKeys {
		if key.SessionID == sessionID {
			keys = append(keys, *key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Code < keys[j].Code })
	return keys, nil
}

// ConsumeFirstPhaseKey holds the table lock for the whole check-and-set, the
// in-memory equivalent of the SQL repository's conditional update in a tx.
func (repo *attendanceRepository) ConsumeFirstPhaseKey(_ context.Context, key attendance.FirstPhaseKey, studentID string, at time.Time) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.firstKeys[key.ID]
	if !ok {
		return attendance.Record{}, attendance.ErrKeyNotFound
	}
	if stored.IsUsed {
		return attendance.Record{}, attendance.ErrKeyAlreadyUsed
	}
	// unique (session, student)
	for _, rec := range repo.db.records {
		if rec.SessionID == stored.SessionID && rec.StudentID == studentID {
			return attendance.Record{}, attendance.ErrAlreadyRecorded
		}
	}

	stored.IsUsed = true
	stored.UsedByStudentID = studentID
	stored.UsedAt = at

	rec := attendance.Record{
		ID:              uuid.NewString(),
		SessionID:       stored.SessionID,
		StudentID:       studentID,
		FirstPhaseKeyID: stored.ID,
		AttendanceTime:  at,
	}
	repo.db.records[rec.ID] = &rec
	return rec, nil
}

func (repo *attendanceRepository) CreateSecondPhaseKey(_ context.Context, key attendance.SecondPhaseKey) (attendance.SecondPhaseKey, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key.ID = uuid.NewString()
	repo.db.secondKeys[key.ID] = &key
	return key, nil
}

func (repo *attendanceRepository) GetSecondPhaseKey(_ context.Context, sessionID, code string) (attendance.SecondPhaseKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, key := range repo.db.secondKeys {
		if key.SessionID == sessionID && key.Code == code {
			return *key, nil
		}
	}
	return attendance.SecondPhaseKey{}, attendance.ErrKeyNotFound
}

func (repo *attendanceRepository) CurrentSecondPhaseKey(_ context.Context, sessionID string, now time.Time) (attendance.SecondPhaseKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	// latest-expiring unexpired key wins
	var current *attendance.SecondPhaseKey
	for _, key := range repo.db.secondKeys {
		if key.SessionID != sessionID || key.Expired(now) {
			continue
		}
		if current == nil || key.ValidUntil.After(current.ValidUntil) {
			current = key
		}
	}
	if current == nil {
		return attendance.SecondPhaseKey{}, attendance.ErrKeyNotFound
	}
	return *current, nil
}

func (repo *attendanceRepository) CompleteSecondPhase(_ context.Context, recordID string, at time.Time) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec, ok := repo.db.records[recordID]
	if !ok {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	if !rec.SecondPhaseCompleted {
		rec.SecondPhaseCompleted = true
		rec.AttendanceTime = at
	}
	return *rec, nil
}

func (repo *attendanceRepository) GetRecord(_ context.Context, sessionID, studentID string) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, rec := range repo.db.records {
		if rec.SessionID == sessionID && rec.StudentID == studentID {
			return *rec, nil
		}
	}
	return attendance.Record{}, attendance.ErrRecordNotFound
}

func (repo *attendanceRepository) QuerySessionRecords(_ context.Context, sessionID string) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var recs []attendance.Record
	for _, rec := range repo.db.records {
		if rec.SessionID == sessionID {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].AttendanceTime.Before(recs[j].AttendanceTime) })
	return recs, nil
}

func (repo *attendanceRepository) QueryStudentRecords(_ context.Context, courseID, studentID string) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var recs []attendance.Record
	for _, rec := range repo.db.records {
		if rec.StudentID != studentID {
			continue
		}
		sess, ok := repo.db.sessions[rec.SessionID]
		if !ok || sess.CourseID != courseID {
			continue
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].AttendanceTime.Before(recs[j].AttendanceTime) })
	return recs, nil
}
