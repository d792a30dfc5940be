package echoapi

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/user"
)

// attendSession drives both check-in phases for the student through the
// service layer.
func attendSession(t *testing.T, env *testEnv, sessionID, studentID string) {
	t.Helper()
	ctx := context.Background()

	keys, err := env.attendanceSvc.GenerateFirstPhaseKeys(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("GenerateFirstPhaseKeys() failed: %v", err)
	}
	if _, err = env.attendanceSvc.CheckInFirstPhase(ctx, studentID, keys[0].Code); err != nil {
		t.Fatalf("CheckInFirstPhase() failed: %v", err)
	}
	key, err := env.attendanceSvc.CurrentSecondPhaseKey(ctx, sessionID)
	if err != nil {
		t.Fatalf("CurrentSecondPhaseKey() failed: %v", err)
	}
	if _, err = env.attendanceSvc.CheckInSecondPhase(ctx, studentID, sessionID, key.Code); err != nil {
		t.Fatalf("CheckInSecondPhase() failed: %v", err)
	}
}

func Test_reportApi_courseReport(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	present := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	absent := createUser(t, env, "King", "king", "king@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, present.ID)
	enrollStudent(t, env, math.ID, absent.ID)

	// two active sessions; "present" attends both, "absent" none
	s1 := createSession(t, env, math.ID, env.clock.Add(-10*time.Minute), 30)
	s2 := createSession(t, env, math.ID, env.clock.Add(-5*time.Minute), 30)
	attendSession(t, env, s1.ID, present.ID)
	attendSession(t, env, s2.ID, present.ID)

	// close them so they count
	for _, id := range []string{s1.ID, s2.ID} {
		if _, err := env.attendanceSvc.CloseSession(ctx, id); err != nil {
			t.Fatalf("CloseSession() failed: %v", err)
		}
	}

	// students cannot pull the course report
	req, rec := newAuthRequest(http.MethodGet, "/v1/reports/attendance/courses/"+math.ID, getToken(t, present))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusForbidden)
	}

	req, rec = newAuthRequest(http.MethodGet, "/v1/reports/attendance/courses/"+math.ID, getToken(t, teacher))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var report attendance.CourseReport
	decodeBody(t, rec, &report)
	if report.TotalSessions != 2 || len(report.Students) != 2 {
		t.Fatalf("report = %+v", report)
	}
	byStudent := make(map[string]attendance.StudentReport, len(report.Students))
	for _, sr := range report.Students {
		byStudent[sr.StudentID] = sr
	}
	if sr := byStudent[present.ID]; sr.AttendedSessions != 2 || sr.AttendanceRate != 100 || !sr.MeetsRequirement {
		t.Errorf("present = %+v", sr)
	}
	if sr := byStudent[absent.ID]; sr.AttendedSessions != 0 || sr.AttendanceRate != 0 || sr.MeetsRequirement {
		t.Errorf("absent = %+v", sr)
	}
}

func Test_reportApi_studentReport(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	other := createUser(t, env, "King", "king", "king@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)
	enrollStudent(t, env, math.ID, other.ID)

	sess := createSession(t, env, math.ID, env.clock.Add(-10*time.Minute), 30)
	attendSession(t, env, sess.ID, student.ID)
	if _, err := env.attendanceSvc.CloseSession(ctx, sess.ID); err != nil {
		t.Fatalf("CloseSession() failed: %v", err)
	}

	path := "/v1/reports/attendance/courses/" + math.ID + "/students/" + student.ID

	// students may only read their own record
	req, rec := newAuthRequest(http.MethodGet, path, getToken(t, other))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusForbidden)
	}

	for _, token := range []string{getToken(t, student), getToken(t, teacher)} {
		req, rec = newAuthRequest(http.MethodGet, path, token)
		env.server.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var sr attendance.StudentReport
		decodeBody(t, rec, &sr)
		if sr.TotalSessions != 1 || sr.AttendedSessions != 1 || sr.AttendanceRate != 100 {
			t.Errorf("report = %+v", sr)
		}
	}

	// bad date params are rejected
	req, rec = newAuthRequest(http.MethodGet, path+"?from=lol", getToken(t, teacher))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusBadRequest)
	}
}

func Test_reportApi_export(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)

	sess := createSession(t, env, math.ID, env.clock.Add(-10*time.Minute), 30)
	attendSession(t, env, sess.ID, student.ID)
	if _, err := env.attendanceSvc.CloseSession(ctx, sess.ID); err != nil {
		t.Fatalf("CloseSession() failed: %v", err)
	}

	req, rec := newAuthRequest(http.MethodGet, "/v1/reports/attendance/courses/"+math.ID+"/export", getToken(t, teacher))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd == "" {
		t.Error("missing Content-Disposition header")
	}

	// the payload is a readable workbook with a header and one student row
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("GetRows() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1][0] != student.Name {
		t.Errorf("student cell = %q, want %q", rows[1][0], student.Name)
	}
}
