package echoapi

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

func Test_settingsApi(t *testing.T) {
	env := setup(t)

	student := createUser(t, env, "Hero", "hero", "hero@test.cd", "", user.StudentRoles, true)
	admin := createUser(t, env, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	// defaults come from config until an admin overrides them
	req, rec := newAuthRequest(http.MethodGet, "/v1/settings", getToken(t, student))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	var settings core.Settings
	decodeBody(t, rec, &settings)
	if settings.SchoolName != core.Conf.AppName {
		t.Errorf("SchoolName = %q, want %q", settings.SchoolName, core.Conf.AppName)
	}
	if settings.MaxAbsencePercent != core.Conf.DefaultMaxAbsencePercent {
		t.Errorf("MaxAbsencePercent = %v, want %v", settings.MaxAbsencePercent, core.Conf.DefaultMaxAbsencePercent)
	}

	// only admins may change them
	body := marchallObj(t, UpdateSettingRequest{Key: core.SettingSchoolName, Value: "Shule High"})
	req, rec = newAuthRequest(http.MethodPut, "/v1/settings", getToken(t, student), body)
	env.server.ServeHTTP(rec, req)
	tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}
	checkCodeAndData(t, tt, rec)

	adminToken := getToken(t, admin)
	req, rec = newAuthRequest(http.MethodPut, "/v1/settings", adminToken, body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &settings)
	if settings.SchoolName != "Shule High" {
		t.Errorf("SchoolName = %q, want %q", settings.SchoolName, "Shule High")
	}

	// the absence threshold feeds the attendance reports
	body = marchallObj(t, UpdateSettingRequest{Key: core.SettingMaxAbsencePercent, Value: strconv.Itoa(10)})
	req, rec = newAuthRequest(http.MethodPut, "/v1/settings", adminToken, body)
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &settings)
	if settings.MaxAbsencePercent != 10 {
		t.Errorf("MaxAbsencePercent = %v, want 10", settings.MaxAbsencePercent)
	}

	// missing fields are rejected
	req, rec = newAuthRequest(http.MethodPut, "/v1/settings", adminToken, marchallObj(t, UpdateSettingRequest{Key: core.SettingThemeColor}))
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, http.StatusBadRequest)
	}
}
