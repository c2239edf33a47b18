package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
)

func Test_tenantApi_signup(t *testing.T) {
	env := setup(t)

	signup := func(slug, uname string) []byte {
		return marchallObj(t, echoapi.SignupRequest{
			Tenant: tenant.NewTenant{Name: "Plumbers Inc", Slug: slug, Timezone: "America/New_York"},
			Owner: user.NewUser{
				Name:            "Owner",
				Username:        uname,
				Email:           uname + "@plumbers.test",
				Password:        testPassword,
				PasswordConfirm: testPassword,
				Roles:           []string{user.RoleTechnician},
			},
		})
	}

	tests := []httpTest{
		{name: "empty body", wantCode: http.StatusBadRequest},
		{name: "slug taken", body: signup("acme", "owner01"), wantCode: http.StatusBadRequest},
		{name: "username taken", body: signup("plumbers", env.admin.Username), wantCode: http.StatusBadRequest},
		{name: "valid", body: signup("plumbers", "owner01"), wantCode: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, "/v1/signup"
			rec := env.do(tt)
			checkCodeAndData(t, tt, rec)
			if tt.wantCode != http.StatusCreated {
				return
			}

			var res echoapi.SignupResponse
			unmarshal(t, rec, &res)
			assert.Equal(t, "plumbers", res.Tenant.Slug)
			assert.Equal(t, tenant.PlanFree, res.Tenant.Subscription.Plan)
			assert.EqualValues(t, 1, res.Tenant.Usage.Users)
			assert.Equal(t, res.Tenant.ID, res.Owner.TenantID)
			assert.Equal(t, []string{user.RoleAdminOwner}, res.Owner.Roles)

			rec = env.do(httpTest{path: "/v1/tenant", token: res.Token})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var tnt tenant.Tenant
			unmarshal(t, rec, &tnt)
			assert.Equal(t, res.Tenant.ID, tnt.ID)
		})
	}
}

func Test_tenantApi_usage(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)

	for i := 0; i < 3; i++ {
		_, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{Title: "Boiler service"})
		require.NoError(t, err)
	}

	rec := env.do(httpTest{path: "/v1/tenant/usage", token: getToken(t, env.conf, tech)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report tenant.UsageReport
	unmarshal(t, rec, &report)
	assert.Equal(t, tenant.PlanBasic, report.Plan)
	require.Len(t, report.Kinds, len(tenant.AllUsageKinds))
	for _, k := range report.Kinds {
		if k.Kind == tenant.UsageWorkOrders {
			assert.EqualValues(t, 3, k.Used)
			assert.EqualValues(t, 500, k.Limit)
			assert.True(t, k.Monthly)
		}
	}

	tests := []httpTest{
		{name: "history requires admin", path: "/v1/tenant/usage/history", token: getToken(t, env.conf, tech), wantCode: http.StatusForbidden},
		{name: "empty history", path: "/v1/tenant/usage/history", token: getToken(t, env.conf, env.admin), wantCode: http.StatusOK, wantData: marchallList(t)},
		{name: "plans", path: "/v1/tenant/plans", token: getToken(t, env.conf, tech), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func Test_tenantApi_resetUsage(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	manager := env.createUser(t, "manager1", user.RoleAdminManager)
	ownerToken := getToken(t, env.conf, env.admin)

	_, err := env.workOrders.Create(ctx, env.tenant.ID, env.admin.ID, workorder.NewWorkOrder{Title: "Boiler service"})
	require.NoError(t, err)

	reset := func(force bool) []byte {
		return marchallObj(t, echoapi.ResetUsageRequest{Force: force})
	}

	t.Run("owner only", func(t *testing.T) {
		tt := httpTest{method: http.MethodPost, path: "/v1/tenant/usage/reset", body: reset(true), token: getToken(t, env.conf, manager), wantCode: http.StatusForbidden}
		checkCodeAndData(t, tt, env.do(tt))
	})

	t.Run("not due", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodPost, path: "/v1/tenant/usage/reset", body: reset(false), token: ownerToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res tenant.ResetResult
		unmarshal(t, rec, &res)
		assert.Equal(t, tenant.ResetSkipped, res.Status)
	})

	t.Run("in progress", func(t *testing.T) {
		unlock, ok, err := env.locker.TryLock(ctx, "usage-reset:"+env.tenant.ID)
		require.NoError(t, err)
		require.True(t, ok)
		defer unlock()

		tt := httpTest{method: http.MethodPost, path: "/v1/tenant/usage/reset", body: reset(true), token: ownerToken, wantCode: http.StatusConflict}
		checkCodeAndData(t, tt, env.do(tt))
	})

	t.Run("forced", func(t *testing.T) {
		rec := env.do(httpTest{method: http.MethodPost, path: "/v1/tenant/usage/reset", body: reset(true), token: ownerToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res tenant.ResetResult
		unmarshal(t, rec, &res)
		assert.Equal(t, tenant.ResetDone, res.Status)
		assert.EqualValues(t, 1, res.Previous.WorkOrders)

		tnt, err := env.tenants.Get(ctx, env.tenant.ID)
		require.NoError(t, err)
		assert.Zero(t, tnt.Usage.WorkOrders)

		rec = env.do(httpTest{path: "/v1/tenant/usage/history", token: ownerToken})
		var records []tenant.UsageRecord
		unmarshal(t, rec, &records)
		require.Len(t, records, 1)
		assert.EqualValues(t, 1, records[0].Usage.WorkOrders)
	})
}

func Test_tenantApi_changePlan(t *testing.T) {
	env := setup(t)
	manager := env.createUser(t, "manager1", user.RoleAdminManager)

	custom := tenant.PlanLimits(tenant.PlanPro)
	custom.WorkOrders = 1_000_000

	tests := []httpTest{
		{name: "owner only", body: marchallObj(t, tenant.ChangePlan{Plan: tenant.PlanPro}), token: getToken(t, env.conf, manager), wantCode: http.StatusForbidden},
		{name: "unknown plan", body: marchallObj(t, tenant.ChangePlan{Plan: "gold"}), token: getToken(t, env.conf, env.admin), wantCode: http.StatusBadRequest},
		{
			name: "custom limits are ignored", body: marchallObj(t, tenant.ChangePlan{Plan: tenant.PlanPro, Limits: &custom}),
			token: getToken(t, env.conf, env.admin), wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPut, "/v1/tenant/plan"
			rec := env.do(tt)
			checkCodeAndData(t, tt, rec)
			if tt.wantCode == http.StatusOK {
				var tnt tenant.Tenant
				unmarshal(t, rec, &tnt)
				assert.Equal(t, tenant.PlanPro, tnt.Subscription.Plan)
				assert.Equal(t, tenant.PlanLimits(tenant.PlanPro), tnt.Subscription.Limits)
			}
		})
	}
}

func Test_tenantApi_workOrderLimit(t *testing.T) {
	ctx := context.Background()
	env := setup(t)

	limits := tenant.PlanLimits(tenant.PlanBasic)
	limits.WorkOrders = 1
	_, err := env.tenants.ChangePlan(ctx, env.tenant.ID, tenant.ChangePlan{Plan: tenant.PlanBasic, Limits: &limits})
	require.NoError(t, err)

	token := getToken(t, env.conf, env.admin)
	body := marchallObj(t, workorder.NewWorkOrder{Title: "Boiler service"})

	tt := httpTest{method: http.MethodPost, path: "/v1/work-orders", body: body, token: token, wantCode: http.StatusCreated}
	checkCodeAndData(t, tt, env.do(tt))

	tt.wantCode = http.StatusPaymentRequired
	tt.wantData = marchallObj(t, map[string]interface{}{
		"error": "work_orders limit reached (1/1)",
		"kind":  tenant.UsageWorkOrders,
		"limit": 1,
		"used":  1,
	})
	checkCodeAndData(t, tt, env.do(tt))

	tnt, err := env.tenants.Get(ctx, env.tenant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tnt.Usage.WorkOrders)
}
