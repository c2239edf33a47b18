package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	testutil "github.com/trezcool/fieldops/tests"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.usrRepo, env.tenant.ID, "N Dog", "ndog01", "ndog@acme.test", testPassword, nil, false)

	tests := []httpTest{
		{name: "empty body", wantCode: http.StatusBadRequest},
		{
			name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "nobody", Password: testPassword}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: env.admin.Username, Password: "nope"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: marchallObj(t, echoapi.LoginRequest{Username: "ndog01", Password: testPassword}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marchallObj(t, echoapi.LoginRequest{Username: env.admin.Username, Password: testPassword}), wantCode: http.StatusOK},
		{name: "by email", body: marchallObj(t, echoapi.LoginRequest{Username: env.admin.Email, Password: testPassword}), wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, "/v1/users/login"
			rec := env.do(tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var res echoapi.LoginResponse
				unmarshal(t, rec, &res)
				require.NotEmpty(t, res.Token)

				// the token opens the authed endpoints
				rec = env.do(httpTest{path: "/v1/users/me", token: res.Token})
				var me user.User
				unmarshal(t, rec, &me)
				assert.Equal(t, env.admin.ID, me.ID)
				assert.False(t, me.LastLogin.IsZero())
			}
		})
	}

	t.Run("deactivated tenant", func(t *testing.T) {
		_, err := env.tenants.Update(
			context.Background(), env.tenant.ID,
			tenant.UpdateTenant{Name: env.tenant.Name, Timezone: env.tenant.Timezone, IsActive: boolPtr(false)},
		)
		require.NoError(t, err)

		tt := httpTest{
			method: http.MethodPost, path: "/v1/users/login",
			body:     marchallObj(t, echoapi.LoginRequest{Username: env.admin.Username, Password: testPassword}),
			wantCode: http.StatusForbidden,
		}
		checkCodeAndData(t, tt, env.do(tt))

		tt = httpTest{path: "/v1/users/me", token: getToken(t, env.conf, env.admin), wantCode: http.StatusForbidden}
		checkCodeAndData(t, tt, env.do(tt))
	})
}

func Test_userApi_userQuery(t *testing.T) {
	env := setup(t)

	path := func(search string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}

	super := env.createUser(t, "super01", user.RoleSupervisor)
	tech := env.createUser(t, "tech001", user.RoleTechnician)

	// another tenant, never visible
	other := testutil.CreateTenant(t, env.tenants, "Other", "other", "UTC", tenant.PlanFree)
	stranger := testutil.CreateUser(t, env.usrRepo, other.ID, "Stranger", "stranger", "stranger@other.test", testPassword, []string{user.RoleAdmin}, true)

	adminToken := getToken(t, env.conf, env.admin)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, env.conf, tech), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/users", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, env.admin, super, tech)},
		{name: "search (unknown)", path: path("lol"), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "search=TECH", path: path("TECH"), token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, tech)},
		{
			name: "role=supervisor:", path: path("", user.RoleSupervisor),
			token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, super),
		},
		{
			name: "other tenant", path: "/v1/users", token: getToken(t, env.conf, stranger),
			wantCode: http.StatusOK, wantData: marchallList(t, stranger),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func Test_userApi_userRetrieve(t *testing.T) {
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	tech2 := env.createUser(t, "tech002", user.RoleTechnician)
	other := testutil.CreateTenant(t, env.tenants, "Other", "other", "UTC", tenant.PlanFree)
	stranger := testutil.CreateUser(t, env.usrRepo, other.ID, "Stranger", "stranger", "stranger@other.test", testPassword, nil, true)

	tests := []httpTest{
		{name: "self", path: "/v1/users/" + tech.ID, token: getToken(t, env.conf, tech), wantCode: http.StatusOK, wantData: marchallObj(t, tech)},
		{name: "colleague", path: "/v1/users/" + tech2.ID, token: getToken(t, env.conf, tech), wantCode: http.StatusNotFound},
		{name: "admin", path: "/v1/users/" + tech2.ID, token: getToken(t, env.conf, env.admin), wantCode: http.StatusOK, wantData: marchallObj(t, tech2)},
		{name: "other tenant", path: "/v1/users/" + stranger.ID, token: getToken(t, env.conf, env.admin), wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func Test_userApi_userCreate(t *testing.T) {
	env := setup(t)
	super := env.createUser(t, "super01", user.RoleSupervisor)

	newUser := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "User " + uname,
			Username:        uname,
			Email:           uname + "@acme.test",
			Password:        testPassword,
			PasswordConfirm: testPassword,
			Roles:           roles,
		})
	}

	tests := []httpTest{
		{name: "supervisor", body: newUser("tech001", user.RoleTechnician), token: getToken(t, env.conf, super), wantCode: http.StatusForbidden},
		{name: "valid", body: newUser("tech001", user.RoleTechnician), token: getToken(t, env.conf, env.admin), wantCode: http.StatusCreated},
		{name: "duplicate", body: newUser("tech001", user.RoleTechnician), token: getToken(t, env.conf, env.admin), wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, "/v1/users/register"
			checkCodeAndData(t, tt, env.do(tt))
		})
	}

	t.Run("seat limit", func(t *testing.T) {
		limits := tenant.PlanLimits(tenant.PlanBasic)
		limits.Users = 1
		_, err := env.tenants.ChangePlan(context.Background(), env.tenant.ID, tenant.ChangePlan{Plan: tenant.PlanBasic, Limits: &limits})
		require.NoError(t, err)

		tt := httpTest{
			method: http.MethodPost, path: "/v1/users/register",
			body: newUser("tech002", user.RoleTechnician), token: getToken(t, env.conf, env.admin),
			wantCode: http.StatusPaymentRequired,
		}
		rec := env.do(tt)
		checkCodeAndData(t, tt, rec)

		var body map[string]interface{}
		unmarshal(t, rec, &body)
		assert.Equal(t, string(tenant.UsageUsers), body["kind"])
		assert.EqualValues(t, 1, body["limit"])
	})
}

func Test_userApi_userDestroy(t *testing.T) {
	env := setup(t)
	manager := env.createUser(t, "manager1", user.RoleAdminManager)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	managerToken := getToken(t, env.conf, manager)

	tests := []httpTest{
		{name: "technician", path: "/v1/users/" + manager.ID, token: getToken(t, env.conf, tech), wantCode: http.StatusNotFound},
		{name: "self", path: "/v1/users/" + manager.ID, token: managerToken, wantCode: http.StatusForbidden},
		{name: "higher rank", path: "/v1/users/" + env.admin.ID, token: managerToken, wantCode: http.StatusForbidden},
		{name: "valid", path: "/v1/users/" + tech.ID, token: managerToken, wantCode: http.StatusNoContent},
		{name: "gone", path: "/v1/users/" + tech.ID, token: managerToken, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodDelete
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func boolPtr(b bool) *bool { return &b }
