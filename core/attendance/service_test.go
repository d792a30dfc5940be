package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
)

type testEnv struct {
	svc       attendance.Service
	courseSvc course.Service
	repo      attendance.Repository
	now       time.Time
	clock     *time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := dummydb.Open()
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	clock := &now

	repo := dummydb.NewAttendanceRepository(db)
	courseSvc := course.NewService(dummydb.NewCourseRepository(db))
	return &testEnv{
		svc:       attendance.NewServiceMock(repo, courseSvc, func() time.Time { return *clock }),
		courseSvc: courseSvc,
		repo:      repo,
		now:       now,
		clock:     clock,
	}
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env *testEnv) newCourse(t *testing.T, studentIDs ...string) course.Course {
	t.Helper()
	ctx := context.Background()

	c, err := env.courseSvc.Create(ctx, course.NewCourse{
		Name:      "Algorithms",
		Code:      "cs201-" + uuid.NewString()[:8],
		TeacherID: uuid.NewString(),
	})
	require.NoError(t, err)
	for _, sid := range studentIDs {
		_, err = env.courseSvc.Enroll(ctx, c.ID, sid)
		require.NoError(t, err)
	}
	return c
}

func (env *testEnv) newSession(t *testing.T, courseID string, keyCount int) (attendance.Session, []attendance.FirstPhaseKey) {
	t.Helper()
	ctx := context.Background()

	sess, err := env.svc.CreateSession(ctx, attendance.NewSession{
		CourseID:        courseID,
		StartsAt:        *env.clock,
		DurationMinutes: 60,
		KeyCount:        keyCount,
	})
	require.NoError(t, err)
	keys, err := env.svc.SessionKeys(ctx, sess.ID)
	require.NoError(t, err)
	return sess, keys
}

func assertValidationErr(t *testing.T, err, sentinel error) {
	t.Helper()
	require.Error(t, err)
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "expected validation error, got %v", err)
	if sentinel != nil {
		assert.Equal(t, sentinel, errors.Cause(vErr.Err))
	}
}

func TestCreateSessionMintsKeys(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	students := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	c := env.newCourse(t, students...)

	// key count defaults to the active roster size
	sess, keys := env.newSession(t, c.ID, 0)
	assert.Len(t, keys, len(students))

	// an initial second-phase key covers the session
	key, err := env.svc.CurrentSecondPhaseKey(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, key.Expired(env.now))
	assert.False(t, key.Expired(env.now.Add(59*time.Minute)))
}

func TestCheckInFirstPhase(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	student1, student2, outsider := uuid.NewString(), uuid.NewString(), uuid.NewString()
	c := env.newCourse(t, student1, student2)
	sess, keys := env.newSession(t, c.ID, 2)

	t.Run("success", func(t *testing.T) {
		res, err := env.svc.CheckInFirstPhase(ctx, student1, keys[0].Code)
		require.NoError(t, err)
		assert.False(t, res.AlreadyRecorded)
		assert.Equal(t, sess.ID, res.Record.SessionID)
		assert.Equal(t, student1, res.Record.StudentID)
		assert.False(t, res.Record.SecondPhaseCompleted)
	})

	t.Run("code is normalized", func(t *testing.T) {
		res, err := env.svc.CheckInFirstPhase(ctx, student1, "  "+keys[0].Code+" ")
		require.NoError(t, err)
		assert.True(t, res.AlreadyRecorded)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := env.svc.CheckInFirstPhase(ctx, student2, "NOPE2345")
		assertValidationErr(t, err, attendance.ErrKeyNotFound)
	})

	t.Run("used key rejected for another student", func(t *testing.T) {
		_, err := env.svc.CheckInFirstPhase(ctx, student2, keys[0].Code)
		assertValidationErr(t, err, attendance.ErrKeyAlreadyUsed)
	})

	t.Run("already recorded is informational", func(t *testing.T) {
		res, err := env.svc.CheckInFirstPhase(ctx, student1, keys[1].Code)
		require.NoError(t, err)
		assert.True(t, res.AlreadyRecorded)

		// the fresh key was not burned
		key, err := env.repo.GetFirstPhaseKeyByCode(ctx, keys[1].Code)
		require.NoError(t, err)
		assert.False(t, key.IsUsed)
	})

	t.Run("unenrolled student", func(t *testing.T) {
		_, err := env.svc.CheckInFirstPhase(ctx, outsider, keys[1].Code)
		assertValidationErr(t, err, attendance.ErrNotEnrolled)
	})

	t.Run("closed session", func(t *testing.T) {
		_, err := env.svc.CloseSession(ctx, sess.ID)
		require.NoError(t, err)
		_, err = env.svc.CheckInFirstPhase(ctx, student2, keys[1].Code)
		assertValidationErr(t, err, attendance.ErrSessionNotOpen)
	})
}

func TestCheckInFirstPhaseExpiredSession(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	student := uuid.NewString()
	c := env.newCourse(t, student)
	_, keys := env.newSession(t, c.ID, 1)

	env.advance(61 * time.Minute)
	_, err := env.svc.CheckInFirstPhase(ctx, student, keys[0].Code)
	assertValidationErr(t, err, attendance.ErrSessionNotOpen)
}

func TestCheckInSecondPhase(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	student1, student2 := uuid.NewString(), uuid.NewString()
	c := env.newCourse(t, student1, student2)
	sess, keys := env.newSession(t, c.ID, 2)

	secondKey, err := env.svc.CurrentSecondPhaseKey(ctx, sess.ID)
	require.NoError(t, err)

	t.Run("requires first phase", func(t *testing.T) {
		_, err := env.svc.CheckInSecondPhase(ctx, student1, sess.ID, secondKey.Code)
		assertValidationErr(t, err, attendance.ErrNoFirstPhase)
	})

	_, err = env.svc.CheckInFirstPhase(ctx, student1, keys[0].Code)
	require.NoError(t, err)

	t.Run("mismatched key", func(t *testing.T) {
		_, err := env.svc.CheckInSecondPhase(ctx, student1, sess.ID, "WRONG2")
		assertValidationErr(t, err, attendance.ErrKeyMismatch)
	})

	t.Run("success", func(t *testing.T) {
		res, err := env.svc.CheckInSecondPhase(ctx, student1, sess.ID, secondKey.Code)
		require.NoError(t, err)
		assert.False(t, res.AlreadyCompleted)
		assert.True(t, res.Record.SecondPhaseCompleted)
	})

	t.Run("already completed is informational", func(t *testing.T) {
		res, err := env.svc.CheckInSecondPhase(ctx, student1, sess.ID, secondKey.Code)
		require.NoError(t, err)
		assert.True(t, res.AlreadyCompleted)
		assert.True(t, res.Record.SecondPhaseCompleted)
	})

	t.Run("expired key rejected after rotation", func(t *testing.T) {
		_, err = env.svc.CheckInFirstPhase(ctx, student2, keys[1].Code)
		require.NoError(t, err)

		rotated, err := env.svc.RotateSecondPhaseKey(ctx, sess.ID, time.Minute)
		require.NoError(t, err)
		env.advance(2 * time.Minute)

		_, err = env.svc.CheckInSecondPhase(ctx, student2, sess.ID, rotated.Code)
		assertValidationErr(t, err, attendance.ErrKeyExpired)

		// a fresh rotation still works
		rotated, err = env.svc.RotateSecondPhaseKey(ctx, sess.ID, 5*time.Minute)
		require.NoError(t, err)
		res, err := env.svc.CheckInSecondPhase(ctx, student2, sess.ID, rotated.Code)
		require.NoError(t, err)
		assert.True(t, res.Record.SecondPhaseCompleted)
	})
}

// The second-phase key's valid_until is the only time gate for phase 2: a
// scan just after the scheduled end still lands while the last key lives.
func TestCheckInSecondPhaseAfterSessionEnd(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	student1, student2 := uuid.NewString(), uuid.NewString()
	c := env.newCourse(t, student1, student2)
	sess, keys := env.newSession(t, c.ID, 2)

	_, err := env.svc.CheckInFirstPhase(ctx, student1, keys[0].Code)
	require.NoError(t, err)
	_, err = env.svc.CheckInFirstPhase(ctx, student2, keys[1].Code)
	require.NoError(t, err)

	env.advance(59 * time.Minute)
	rotated, err := env.svc.RotateSecondPhaseKey(ctx, sess.ID, 5*time.Minute)
	require.NoError(t, err)

	// past the 60 min schedule, inside the key's window
	env.advance(2 * time.Minute)
	res, err := env.svc.CheckInSecondPhase(ctx, student1, sess.ID, rotated.Code)
	require.NoError(t, err)
	assert.True(t, res.Record.SecondPhaseCompleted)

	// once the last key dies the session is truly over
	env.advance(4 * time.Minute)
	_, err = env.svc.CheckInSecondPhase(ctx, student2, sess.ID, rotated.Code)
	assertValidationErr(t, err, attendance.ErrKeyExpired)
}

// N students race for the same single-use key: exactly one wins.
func TestCheckInFirstPhaseRace(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	const n = 16
	students := make([]string, n)
	for i := range students {
		students[i] = uuid.NewString()
	}
	c := env.newCourse(t, students...)
	sess, keys := env.newSession(t, c.ID, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, sid := range students {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			res, err := env.svc.CheckInFirstPhase(ctx, sid, keys[0].Code)
			if err == nil && !res.AlreadyRecorded {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(sid)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	recs, err := env.svc.SessionRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCloseSessionIdempotent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	c := env.newCourse(t, uuid.NewString())
	sess, _ := env.newSession(t, c.ID, 1)

	closed, err := env.svc.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.SessionClosed, closed.Status)

	again, err := env.svc.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.SessionClosed, again.Status)
}

func TestReports(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	settings := core.Settings{MaxAbsencePercent: 25}

	present, absent := uuid.NewString(), uuid.NewString()
	c := env.newCourse(t, present, absent)

	// 4 sessions one day apart; `present` completes both phases in 3 of them
	for i := 0; i < 4; i++ {
		sess, keys := env.newSession(t, c.ID, 2)
		if i < 3 {
			_, err := env.svc.CheckInFirstPhase(ctx, present, keys[0].Code)
			require.NoError(t, err)
			secondKey, err := env.svc.CurrentSecondPhaseKey(ctx, sess.ID)
			require.NoError(t, err)
			_, err = env.svc.CheckInSecondPhase(ctx, present, sess.ID, secondKey.Code)
			require.NoError(t, err)
		}
		if i == 3 {
			// first phase only; does not count as attended
			_, err := env.svc.CheckInFirstPhase(ctx, present, keys[0].Code)
			require.NoError(t, err)
		}
		_, err := env.svc.CloseSession(ctx, sess.ID)
		require.NoError(t, err)
		env.advance(24 * time.Hour)
	}

	from, to := env.now.Add(-time.Hour), env.now.Add(5*24*time.Hour)

	t.Run("student report", func(t *testing.T) {
		rep, err := env.svc.StudentReport(ctx, c.ID, present, from, to, settings)
		require.NoError(t, err)
		assert.Equal(t, 4, rep.TotalSessions)
		assert.Equal(t, 3, rep.AttendedSessions)
		assert.Equal(t, 75.0, rep.AttendanceRate)
		assert.True(t, rep.MeetsRequirement)
	})

	t.Run("absent student fails the requirement", func(t *testing.T) {
		rep, err := env.svc.StudentReport(ctx, c.ID, absent, from, to, settings)
		require.NoError(t, err)
		assert.Equal(t, 4, rep.TotalSessions)
		assert.Equal(t, 0, rep.AttendedSessions)
		assert.Equal(t, 0.0, rep.AttendanceRate)
		assert.False(t, rep.MeetsRequirement)
	})

	t.Run("course report covers the roster", func(t *testing.T) {
		rep, err := env.svc.CourseReport(ctx, c.ID, from, to, settings)
		require.NoError(t, err)
		assert.Equal(t, 4, rep.TotalSessions)
		require.Len(t, rep.Students, 2)
	})

	t.Run("empty range cannot be failed", func(t *testing.T) {
		rep, err := env.svc.StudentReport(ctx, c.ID, absent, to, to.Add(time.Hour), settings)
		require.NoError(t, err)
		assert.Equal(t, 0, rep.TotalSessions)
		assert.Equal(t, 100.0, rep.AttendanceRate)
		assert.True(t, rep.MeetsRequirement)
	})
}
