package echoapi

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/shule/core/quiz"
	"github.com/trezcool/shule/core/user"
)

func Test_quizApi_teacherOnlyRoutes(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Staff required", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Teacher allowed", token: getToken(t, teacher), wantCode: http.StatusOK, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/quizzes", tt.token)
			env.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

// Test_quizApi_takeAndSubmit walks the student flow end to end: serve,
// grade on submit, and the redirect-to-result on completed attempts.
func Test_quizApi_takeAndSubmit(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	lazy := createUser(t, env, "King", "king", "king@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)
	enrollStudent(t, env, math.ID, lazy.ID)

	teacherToken := getToken(t, teacher)

	// teacher sets the quiz up over HTTP
	req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes", teacherToken,
		marchallObj(t, quiz.NewQuiz{CourseID: math.ID, Title: "Week 1 check", TimeLimit: 30}))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var q quiz.Quiz
	decodeBody(t, rec, &q)

	questions := []quiz.NewQuestion{
		{Type: quiz.MultipleChoice, Prompt: "2 + 2 = ?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4", Points: 4},
		{Type: quiz.MultipleSelect, Prompt: "Even numbers?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: `["2","4"]`, Points: 4},
		{Type: quiz.Text, Prompt: "Define a variable.", Points: 2},
	}
	var added []quiz.Question
	for _, nq := range questions {
		req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/questions", teacherToken, marchallObj(t, nq))
		env.server.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var question quiz.Question
		decodeBody(t, rec, &question)
		added = append(added, question)
	}

	studentToken := getToken(t, student)

	// first take fixes the timer; answers are never served
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/take", studentToken)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var served quiz.ServedQuiz
	decodeBody(t, rec, &served)
	if len(served.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(served.Questions))
	}
	for _, question := range served.Questions {
		if question.CorrectAnswer != "" {
			t.Errorf("correct answer leaked: %+v", question)
		}
	}
	if served.Submission.Status != quiz.StatusInProgress {
		t.Errorf("submission = %+v", served.Submission)
	}
	if served.RemainingSeconds <= 0 || served.RemainingSeconds > 30*60 {
		t.Errorf("remaining = %d", served.RemainingSeconds)
	}

	// submitting without serving first is an error
	input := quiz.SubmissionInput{Answers: []quiz.SubmittedAnswer{
		{QuestionID: added[0].ID, Answer: "4"},
		{QuestionID: added[1].ID, Selections: []string{"2", "4"}},
		{QuestionID: added[2].ID, Answer: "A named storage location."},
	}}
	req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/submit", getToken(t, lazy), marchallObj(t, input))
	env.server.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "no submission found"})}
	checkCodeAndData(t, tt, rec)

	// grade on submit
	req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/submit", studentToken, marchallObj(t, input))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var res quiz.SubmissionResult
	decodeBody(t, rec, &res)
	if res.Submission.Status != quiz.StatusGraded {
		t.Errorf("submission = %+v", res.Submission)
	}
	if res.Submission.Score != 10 || res.Submission.TotalPoints != 10 {
		t.Errorf("score = %v/%v, want 10/10", res.Submission.Score, res.Submission.TotalPoints)
	}

	// a completed attempt answers 303 with the result location
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/take", studentToken)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != "/v1/quizzes/"+q.ID+"/result" {
		t.Errorf("Location = %s", loc)
	}
	req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/submit", studentToken, marchallObj(t, input))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusSeeOther)
	}

	// the result endpoint serves the graded attempt
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/result", studentToken)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &res)
	if res.Submission.Score != 10 || len(res.Answers) != 3 {
		t.Errorf("result = %+v", res)
	}

	// no attempt yet: 404
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/result", getToken(t, lazy))
	env.server.ServeHTTP(rec, req)
	tt = httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}
	checkCodeAndData(t, tt, rec)

	// the teacher sees the submission roll up
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/submissions", teacherToken)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var subs []quiz.Submission
	decodeBody(t, rec, &subs)
	if len(subs) != 1 || subs[0].StudentID != student.ID {
		t.Errorf("submissions = %+v", subs)
	}
}

func Test_quizApi_partialCredit(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)

	teacherToken := getToken(t, teacher)
	req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes", teacherToken,
		marchallObj(t, quiz.NewQuiz{CourseID: math.ID, Title: "Multi-select"}))
	env.server.ServeHTTP(rec, req)
	var q quiz.Quiz
	decodeBody(t, rec, &q)

	req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/questions", teacherToken, marchallObj(t, quiz.NewQuestion{
		Type: quiz.MultipleSelect, Prompt: "Primes?", Options: []string{"2", "3", "4", "5"}, CorrectAnswer: `["2","3","5"]`, Points: 6,
	}))
	env.server.ServeHTTP(rec, req)
	var question quiz.Question
	decodeBody(t, rec, &question)

	studentToken := getToken(t, student)
	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/take", studentToken)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}

	// two correct picks, one wrong: credit = 6 * (2 - 1) / 3
	input := quiz.SubmissionInput{Answers: []quiz.SubmittedAnswer{
		{QuestionID: question.ID, Selections: []string{"2", "3", "4"}},
	}}
	req, rec = newAuthRequest(http.MethodPost, "/v1/quizzes/"+q.ID+"/submit", studentToken, marchallObj(t, input))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var res quiz.SubmissionResult
	decodeBody(t, rec, &res)
	if res.Submission.Score != 2 {
		t.Errorf("score = %v, want 2", res.Submission.Score)
	}
	if len(res.Answers) != 1 || res.Answers[0].IsCorrect {
		t.Errorf("answers = %+v", res.Answers)
	}
}

func Test_quizApi_inactiveQuizNotServed(t *testing.T) {
	env := setup(t)

	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)

	teacherToken := getToken(t, teacher)
	req, rec := newAuthRequest(http.MethodPost, "/v1/quizzes", teacherToken,
		marchallObj(t, quiz.NewQuiz{CourseID: math.ID, Title: "Hidden"}))
	env.server.ServeHTTP(rec, req)
	var q quiz.Quiz
	decodeBody(t, rec, &q)

	inactive := false
	req, rec = newAuthRequest(http.MethodPut, "/v1/quizzes/"+q.ID+"/active", teacherToken,
		marchallObj(t, SetActiveRequest{IsActive: &inactive}))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}

	req, rec = newAuthRequest(http.MethodGet, "/v1/quizzes/"+q.ID+"/take", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "quiz is not available"})}
	checkCodeAndData(t, tt, rec)
}
