package echoapi

import (
	"net/http"
	"testing"

	"github.com/trezcool/shule/core/course"
	"github.com/trezcool/shule/core/user"
)

func Test_courseApi_create(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	body := marchallObj(t, course.NewCourse{Name: "Algebra I", Code: "math101", TeacherID: teacher.ID})

	tests := []httpTest{
		{name: "Auth required", body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required (student)", body: body, token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Admin required (teacher)", body: body, token: getToken(t, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Create", body: body, token: getToken(t, admin), wantCode: http.StatusCreated},
		{name: "Duplicate code", body: body, token: getToken(t, admin), wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/courses", tt.token, tt.body)
			env.server.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body = %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusCreated {
				var c course.Course
				decodeBody(t, rec, &c)
				if c.ID == "" || c.Code != "math101" || !c.IsActive {
					t.Errorf("failed! course = %+v", c)
				}
			} else if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
			}
		})
	}
}

// course listing is role-aware: students see their enrollments, teachers
// their own courses, admins everything.
func Test_courseApi_query(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	other := createUser(t, env, "Other T", "othert", "othert@test.cd", "", user.TeacherRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	bio := createCourse(t, env, "Biology", "bio101", other.ID)
	enrollStudent(t, env, math.ID, student.ID)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Student sees enrolled courses", token: getToken(t, student), wantCode: http.StatusOK, wantData: marchallList(t, math)},
		{name: "Teacher sees own courses", token: getToken(t, teacher), wantCode: http.StatusOK, wantData: marchallList(t, math)},
		{name: "Admin sees all", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, math, bio)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/courses", tt.token)
			env.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_courseApi_enrollAndRoster(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)

	// students cannot enroll themselves
	body := marchallObj(t, EnrollRequest{StudentID: student.ID})
	req, rec := newAuthRequest(http.MethodPost, "/v1/courses/"+math.ID+"/enroll", getToken(t, student), body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusForbidden)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/courses/"+math.ID+"/enroll", getToken(t, admin), body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var enr course.Enrollment
	decodeBody(t, rec, &enr)
	if enr.CourseID != math.ID || enr.StudentID != student.ID || !enr.IsActive {
		t.Errorf("failed! enrollment = %+v", enr)
	}

	// enrolling twice is a validation error
	req, rec = newAuthRequest(http.MethodPost, "/v1/courses/"+math.ID+"/enroll", getToken(t, admin), body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusBadRequest)
	}

	// the teacher can pull the roster
	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+math.ID+"/roster", getToken(t, teacher))
	env.server.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusOK, wantData: marchallList(t, enr)}
	checkCodeAndData(t, tt, rec)

	// students cannot
	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+math.ID+"/roster", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusForbidden)
	}
}

func Test_courseApi_materials(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	outsider := createUser(t, env, "Out", "out", "out@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)

	// teacher publishes a material
	body := marchallObj(t, course.NewMaterial{Week: 1, Title: "Linear equations", URL: "https://example.org/w1.pdf"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/courses/"+math.ID+"/materials", getToken(t, teacher), body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var mat course.Material
	decodeBody(t, rec, &mat)
	if mat.CourseID != math.ID || mat.Week != 1 {
		t.Errorf("failed! material = %+v", mat)
	}

	// a non-enrolled student is rejected
	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+math.ID+"/materials", getToken(t, outsider))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusForbidden)
	}

	// the enrolled student sees it, not yet completed
	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+math.ID+"/materials", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var mats []course.Material
	decodeBody(t, rec, &mats)
	if len(mats) != 1 || mats[0].Completed {
		t.Fatalf("failed! materials = %+v", mats)
	}

	// mark completed
	req, rec = newAuthRequest(http.MethodPost, "/v1/materials/"+mat.ID+"/complete", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	tt := httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, StatusResponse{Status: "success", Message: "Material marked as completed."}),
	}
	checkCodeAndData(t, tt, rec)

	// the completion flag is per student
	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+math.ID+"/materials", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	decodeBody(t, rec, &mats)
	if len(mats) != 1 || !mats[0].Completed {
		t.Errorf("failed! materials = %+v", mats)
	}

	// teacher removes it
	req, rec = newAuthRequest(http.MethodDelete, "/v1/materials/"+mat.ID, getToken(t, teacher))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
	}
}

func Test_courseApi_destroy(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	math := createCourse(t, env, "Algebra I", "math101", teacher.ID)
	bio := createCourse(t, env, "Biology", "bio101", teacher.ID)
	enrollStudent(t, env, math.ID, student.ID)

	// a course with enrollments cannot be deleted
	req, rec := newAuthRequest(http.MethodDelete, "/v1/courses/"+math.ID, getToken(t, admin))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("failed! code = %v; wantCode %v; body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}

	req, rec = newAuthRequest(http.MethodDelete, "/v1/courses/"+bio.ID, getToken(t, admin))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
	}

	req, rec = newAuthRequest(http.MethodGet, "/v1/courses/"+bio.ID, getToken(t, admin))
	env.server.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}
	checkCodeAndData(t, tt, rec)
}
