package echoapi

import (
	"net/http"
	"testing"

	"github.com/trezcool/shule/core/user"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)

	usr := createUser(t, env, "User", "awe", "awe@test.cd", "mdr", user.StudentRoles, true)
	naughty := createUser(t, env, "N Dog", "ndog", "ndog@test.cd", "lol", user.StudentRoles, false)

	tests := []httpTest{
		{
			name: "unknown user", body: marchallObj(t, LoginRequest{Username: "lol", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, LoginRequest{Username: usr.Username, Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: marchallObj(t, LoginRequest{Username: naughty.Username, Password: "lol"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "login with username", body: marchallObj(t, LoginRequest{Username: usr.Username, Password: "mdr"}), wantCode: http.StatusOK},
		{name: "login with email", body: marchallObj(t, LoginRequest{Username: usr.Email, Password: "mdr"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			env.server.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != http.StatusOK {
					t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				var resp LoginResponse
				decodeBody(t, rec, &resp)
				if resp.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userQuery(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	teacher := createUser(t, env, "Teacher", "teacher", "teacher@test.cd", "", user.TeacherRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required (student)", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Admin required (teacher)", token: getToken(t, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", token: getToken(t, admin),
			wantCode: http.StatusOK, wantData: marchallList(t, student, teacher, admin),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users", tt.token)
			env.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_queryRoles(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get roles", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", tt.token)
			env.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_retrieve(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	other := createUser(t, env, "Other", "other", "other@test.cd", "", user.StudentRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	tests := []httpTest{
		{
			name: "Self", path: "/v1/users/" + student.ID, token: getToken(t, student),
			wantCode: http.StatusOK, wantData: marchallObj(t, student),
		},
		{
			// existence is hidden from non-admins
			name: "Other user (non-admin)", path: "/v1/users/" + other.ID, token: getToken(t, student),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Other user (admin)", path: "/v1/users/" + other.ID, token: getToken(t, admin),
			wantCode: http.StatusOK, wantData: marchallObj(t, other),
		},
		{
			name: "Not found", path: "/v1/users/lol", token: getToken(t, admin),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			env.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
