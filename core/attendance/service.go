package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// default second-phase key lifetime; teachers can rotate with a custom TTL.
const defaultSecondPhaseTTL = 5 * time.Minute

var (
	// errors
	ErrSessionNotFound = errors.New("attendance session not found")
	ErrSessionNotOpen  = errors.New("attendance session is closed or expired")
	ErrKeyNotFound     = errors.New("unknown attendance key")
	ErrKeyAlreadyUsed  = errors.New("attendance key has already been used")
	ErrKeyExpired      = errors.New("attendance key has expired")
	ErrKeyMismatch     = errors.New("attendance key does not match this session")
	ErrNotEnrolled     = errors.New("student is not enrolled in this course")
	ErrNoFirstPhase    = errors.New("first phase check-in is required before the second phase")
	ErrRecordNotFound  = errors.New("attendance record not found")
	// returned by repositories when a concurrent check-in won the race;
	// the service converts it to an informational result.
	ErrAlreadyRecorded = errors.New("attendance already recorded for this session")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		FilterSessions(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Session, error)
		SetSessionStatus(ctx context.Context, id string, status SessionStatus) error

		CreateFirstPhaseKeys(ctx context.Context, keys []FirstPhaseKey) ([]FirstPhaseKey, error)
		GetFirstPhaseKeyByCode(ctx context.Context, code string) (FirstPhaseKey, error)
		QueryFirstPhaseKeys(ctx context.Context, sessionID string) ([]FirstPhaseKey, error)
		// ConsumeFirstPhaseKey atomically marks the key used by the student
		// and inserts the attendance record, as one unit. It must guarantee
		// at-most-once consumption under concurrent calls (conditional
		// update on is_used plus the unique (session, student) constraint),
		// returning ErrKeyAlreadyUsed or ErrAlreadyRecorded when losing a race.
		ConsumeFirstPhaseKey(ctx context.Context, key FirstPhaseKey, studentID string, at time.Time) (Record, error)

		CreateSecondPhaseKey(ctx context.Context, key SecondPhaseKey) (SecondPhaseKey, error)
		GetSecondPhaseKey(ctx context.Context, sessionID, code string) (SecondPhaseKey, error)
		CurrentSecondPhaseKey(ctx context.Context, sessionID string, now time.Time) (SecondPhaseKey, error)
		// CompleteSecondPhase sets second_phase_completed and refreshes the
		// attendance time; it never reverts a completed record.
		CompleteSecondPhase(ctx context.Context, recordID string, at time.Time) (Record, error)

		GetRecord(ctx context.Context, sessionID, studentID string) (Record, error)
		QuerySessionRecords(ctx context.Context, sessionID string) ([]Record, error)
		QueryStudentRecords(ctx context.Context, courseID, studentID string) ([]Record, error)
	}

	Service interface {
		CreateSession(ctx context.Context, ns NewSession) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		QuerySessions(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Session, error)
		CloseSession(ctx context.Context, id string) (Session, error)

		SessionKeys(ctx context.Context, sessionID string) ([]FirstPhaseKey, error)
		GenerateFirstPhaseKeys(ctx context.Context, sessionID string, n int) ([]FirstPhaseKey, error)
		RotateSecondPhaseKey(ctx context.Context, sessionID string, ttl time.Duration) (SecondPhaseKey, error)
		CurrentSecondPhaseKey(ctx context.Context, sessionID string) (SecondPhaseKey, error)

		CheckInFirstPhase(ctx context.Context, studentID, code string) (CheckInResult, error)
		CheckInSecondPhase(ctx context.Context, studentID, sessionID, code string) (CheckInResult, error)

		SessionRecords(ctx context.Context, sessionID string) ([]Record, error)

		StudentReport(ctx context.Context, courseID, studentID string, from, to time.Time, settings core.Settings) (StudentReport, error)
		CourseReport(ctx context.Context, courseID string, from, to time.Time, settings core.Settings) (CourseReport, error)
	}

	service struct {
		repo        Repository
		enrollments EnrollmentService
		nowFunc     func() time.Time // mockable
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, enrollments EnrollmentService) Service {
	return &service{
		repo:        repo,
		enrollments: enrollments,
		nowFunc:     time.Now,
	}
}

func (svc *service) now() time.Time { return svc.nowFunc().UTC() }

func (svc *service) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	now := svc.now()
	sess, err := svc.repo.CreateSession(ctx, Session{
		CourseID:        ns.CourseID,
		StartsAt:        ns.StartsAt.UTC(),
		DurationMinutes: ns.DurationMinutes,
		Status:          SessionScheduled,
		CreatedAt:       now,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}

	n := ns.KeyCount
	if n == 0 {
		roster, err := svc.enrollments.CourseRoster(ctx, ns.CourseID)
		if err != nil {
			return Session{}, errors.Wrap(err, "loading course roster")
		}
		for _, enr := range roster {
			if enr.IsActive {
				n++
			}
		}
	}
	if n > 0 {
		if _, err = svc.GenerateFirstPhaseKeys(ctx, sess.ID, n); err != nil {
			return Session{}, err
		}
	}

	// mint the initial second-phase key covering the whole session
	ttl := sess.EndsAt().Sub(now)
	if ttl < defaultSecondPhaseTTL {
		ttl = defaultSecondPhaseTTL
	}
	if _, err = svc.RotateSecondPhaseKey(ctx, sess.ID, ttl); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (svc *service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSessionByID(ctx, id)
}

func (svc *service) QuerySessions(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Session, error) {
	return svc.repo.FilterSessions(ctx, filter, ordering...)
}

// CloseSession is the explicit teacher action; a terminal session stays as is.
func (svc *service) CloseSession(ctx context.Context, id string) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if err = svc.repo.SetSessionStatus(ctx, id, SessionClosed); err != nil {
		return Session{}, errors.Wrap(err, "closing session")
	}
	sess.Status = SessionClosed
	return sess, nil
}

func (svc *service) SessionKeys(ctx context.Context, sessionID string) ([]FirstPhaseKey, error) {
	return svc.repo.QueryFirstPhaseKeys(ctx, sessionID)
}

func (svc *service) GenerateFirstPhaseKeys(ctx context.Context, sessionID string, n int) ([]FirstPhaseKey, error) {
	keys := make([]FirstPhaseKey, 0, n)
	for i := 0; i < n; i++ {
		code, err := generateCode(firstPhaseCodeLen)
		if err != nil {
			return nil, errors.Wrap(err, "generating key code")
		}
		keys = append(keys, FirstPhaseKey{SessionID: sessionID, Code: code})
	}
	keys, err := svc.repo.CreateFirstPhaseKeys(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "creating first-phase keys")
	}
	return keys, nil
}

func (svc *service) RotateSecondPhaseKey(ctx context.Context, sessionID string, ttl time.Duration) (SecondPhaseKey, error) {
	if ttl <= 0 {
		ttl = defaultSecondPhaseTTL
	}
	code, err := generateCode(secondPhaseCodeLen)
	if err != nil {
		return SecondPhaseKey{}, errors.Wrap(err, "generating key code")
	}
	key, err := svc.repo.CreateSecondPhaseKey(ctx, SecondPhaseKey{
		SessionID:  sessionID,
		Code:       code,
		ValidUntil: svc.now().Add(ttl),
	})
	if err != nil {
		return SecondPhaseKey{}, errors.Wrap(err, "creating second-phase key")
	}
	return key, nil
}

func (svc *service) CurrentSecondPhaseKey(ctx context.Context, sessionID string) (SecondPhaseKey, error) {
	return svc.repo.CurrentSecondPhaseKey(ctx, sessionID, svc.now())
}

// CheckInFirstPhase consumes a single-use first-phase key for the student.
// An existing record for the (session, student) pair is reported as
// AlreadyRecorded, not as an error. The key consumption and record insert
// are one atomic unit.
func (svc *service) CheckInFirstPhase(ctx context.Context, studentID, code string) (CheckInResult, error) {
	code = normalizeCode(code)
	if code == "" {
		return CheckInResult{}, core.NewValidationError(errors.New("missing attendance key"))
	}

	key, err := svc.repo.GetFirstPhaseKeyByCode(ctx, code)
	if err != nil {
		if errors.Cause(err) == ErrKeyNotFound {
			return CheckInResult{}, core.NewValidationError(ErrKeyNotFound)
		}
		return CheckInResult{}, errors.Wrap(err, "finding first-phase key")
	}

	sess, err := svc.repo.GetSessionByID(ctx, key.SessionID)
	if err != nil {
		return CheckInResult{}, errors.Wrap(err, "finding key session")
	}
	now := svc.now()
	if !sess.Open(now) {
		return CheckInResult{}, core.NewValidationError(ErrSessionNotOpen)
	}

	enrolled, err := svc.enrollments.IsStudentEnrolled(ctx, sess.CourseID, studentID)
	if err != nil {
		return CheckInResult{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return CheckInResult{}, core.NewValidationError(ErrNotEnrolled)
	}

	// idempotency: a prior record means "already recorded", not an error
	if rec, err := svc.repo.GetRecord(ctx, sess.ID, studentID); err == nil {
		return CheckInResult{Record: rec, AlreadyRecorded: true}, nil
	} else if errors.Cause(err) != ErrRecordNotFound {
		return CheckInResult{}, errors.Wrap(err, "checking existing record")
	}

	if key.IsUsed {
		return CheckInResult{}, core.NewValidationError(ErrKeyAlreadyUsed)
	}

	rec, err := svc.repo.ConsumeFirstPhaseKey(ctx, key, studentID, now)
	if err != nil {
		switch errors.Cause(err) {
		case ErrKeyAlreadyUsed:
			return CheckInResult{}, core.NewValidationError(ErrKeyAlreadyUsed)
		case ErrAlreadyRecorded:
			// lost a concurrent race against ourselves; fetch the winner
			if rec, err := svc.repo.GetRecord(ctx, sess.ID, studentID); err == nil {
				return CheckInResult{Record: rec, AlreadyRecorded: true}, nil
			}
			return CheckInResult{}, core.NewValidationError(ErrAlreadyRecorded)
		}
		return CheckInResult{}, errors.Wrap(err, "consuming first-phase key")
	}
	return CheckInResult{Record: rec}, nil
}

// CheckInSecondPhase confirms continued presence with the session-wide
// rotating key. It requires a prior first-phase record and an unexpired key;
// the key's valid_until is the only time gate, so a scan moments after the
// scheduled end still lands while the last key lives. A record already
// completed is reported as AlreadyCompleted, not an error.
func (svc *service) CheckInSecondPhase(ctx context.Context, studentID, sessionID, code string) (CheckInResult, error) {
	code = normalizeCode(code)
	if sessionID == "" || code == "" {
		return CheckInResult{}, core.NewValidationError(errors.New("missing session or attendance key"))
	}

	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Cause(err) == ErrSessionNotFound {
			return CheckInResult{}, core.NewValidationError(ErrSessionNotFound)
		}
		return CheckInResult{}, errors.Wrap(err, "finding session")
	}
	now := svc.now()

	// phase 2 cannot be completed without phase 1
	rec, err := svc.repo.GetRecord(ctx, sess.ID, studentID)
	if err != nil {
		if errors.Cause(err) == ErrRecordNotFound {
			return CheckInResult{}, core.NewValidationError(ErrNoFirstPhase)
		}
		return CheckInResult{}, errors.Wrap(err, "finding attendance record")
	}
	if rec.SecondPhaseCompleted {
		return CheckInResult{Record: rec, AlreadyCompleted: true}, nil
	}

	key, err := svc.repo.GetSecondPhaseKey(ctx, sess.ID, code)
	if err != nil {
		if errors.Cause(err) == ErrKeyNotFound {
			return CheckInResult{}, core.NewValidationError(ErrKeyMismatch)
		}
		return CheckInResult{}, errors.Wrap(err, "finding second-phase key")
	}
	if key.Expired(now) {
		return CheckInResult{}, core.NewValidationError(ErrKeyExpired)
	}

	rec, err = svc.repo.CompleteSecondPhase(ctx, rec.ID, now)
	if err != nil {
		return CheckInResult{}, errors.Wrap(err, "completing second phase")
	}
	return CheckInResult{Record: rec}, nil
}

func (svc *service) SessionRecords(ctx context.Context, sessionID string) ([]Record, error) {
	return svc.repo.QuerySessionRecords(ctx, sessionID)
}
