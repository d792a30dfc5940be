package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	gradersvc "github.com/trezcool/shule/services/grader"
	logsvc "github.com/trezcool/shule/services/logger"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	server Server

	usrRepo       user.Repository
	usrSvc        user.Service
	courseSvc     course.Service
	attendanceSvc attendance.Service
	quizSvc       quiz.Service
	messagingSvc  messaging.Service
	settingsSvc   *core.SettingsService

	clock *time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	core.Conf.Debug = false
	core.Conf.TestMode = true

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}

	now := time.Now().UTC()
	clock := &now
	nowFunc := func() time.Time { return *clock }

	mailSvc := emailsvc.NewConsoleServiceMock()
	usrRepo := dummydb.NewUserRepository(db)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc)
	courseSvc := course.NewService(dummydb.NewCourseRepository(db))
	attendanceSvc := attendance.NewServiceMock(dummydb.NewAttendanceRepository(db), courseSvc, nowFunc)
	quizSvc := quiz.NewServiceMock(dummydb.NewQuizRepository(db), courseSvc, gradersvc.NewStaticService(), nowFunc)
	messagingSvc := messaging.NewServiceMock(dummydb.NewMessagingRepository(db), courseSvc, usrSvc, mailSvc, nowFunc)
	settingsSvc := core.NewSettingsService(dummydb.NewSettingsRepository(db), core.Conf)

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags), core.Conf)
	logger.Enable(false)

	server := NewServer(&Options{
		DisableReqLogs: true,
		Logger:         logger,
		UserSvc:        usrSvc,
		CourseSvc:      courseSvc,
		AttendanceSvc:  attendanceSvc,
		QuizSvc:        quizSvc,
		MessagingSvc:   messagingSvc,
		SettingsSvc:    settingsSvc,
	})

	return &testEnv{
		server:        server,
		usrRepo:       usrRepo,
		usrSvc:        usrSvc,
		courseSvc:     courseSvc,
		attendanceSvc: attendanceSvc,
		quizSvc:       quizSvc,
		messagingSvc:  messagingSvc,
		settingsSvc:   settingsSvc,
		clock:         clock,
	}
}

// Fixtures

func createUser(t *testing.T, env *testEnv, name, uname, email, pwd string, roles []string, isActive bool) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  isActive,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("SetPassword() failed: %v", err)
		}
	}
	usr, err := env.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func createCourse(t *testing.T, env *testEnv, name, code, teacherID string) course.Course {
	t.Helper()

	c, err := env.courseSvc.Create(context.Background(), course.NewCourse{Name: name, Code: code, TeacherID: teacherID})
	if err != nil {
		t.Fatalf("courseSvc.Create() failed: %v", err)
	}
	return c
}

func enrollStudent(t *testing.T, env *testEnv, courseID, studentID string) course.Enrollment {
	t.Helper()

	enr, err := env.courseSvc.Enroll(context.Background(), courseID, studentID)
	if err != nil {
		t.Fatalf("courseSvc.Enroll() failed: %v", err)
	}
	return enr
}

// HTTP plumbing

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decoding response body: %v; body = %s", err, rec.Body.String())
	}
}

func Test_home(t *testing.T) {
	env := setup(t)

	req, rec := newRequest(http.MethodGet, "/")
	env.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "Welcome to Shule API!" {
		t.Errorf("failed! body = %v", rec.Body.String())
	}
}
