package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
)

type tenantApi struct {
	conf     *core.Config
	svc      tenant.Service
	users    user.Service
	validate *validator.Validate
	logger   core.Logger
}

func registerTenantAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := tenantApi{
		conf:     deps.Conf,
		svc:      deps.TenantSvc,
		users:    deps.UserSvc,
		validate: deps.Validate,
		logger:   deps.Logger,
	}

	g.POST("/signup", api.signup, mw.limit)

	tg := g.Group("/tenant", mw.auth)
	tg.GET("", api.retrieve)
	tg.PUT("", api.update, adminMiddleware())
	tg.PUT("/plan", api.changePlan, adminMiddleware(user.RoleAdminOwner))
	tg.GET("/plans", api.queryPlans)
	tg.GET("/usage", api.usage)
	tg.GET("/usage/history", api.usageHistory, adminMiddleware())
	tg.POST("/usage/reset", api.resetUsage, adminMiddleware(user.RoleAdminOwner))
	tg.POST("/usage/recalculate", api.recalculate, adminMiddleware())
}

// Handlers

// signup creates a tenant along with its owner account and logs the owner in.
func (api *tenantApi) signup(ctx echo.Context) error {
	var data SignupRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignupRequest")
	}
	rctx := ctx.Request().Context()
	if err := data.Tenant.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}
	data.Owner.Roles = []string{user.RoleAdminOwner}
	if err := data.Owner.Validate(rctx, api.validate, api.users); err != nil {
		return err
	}

	tnt, err := api.svc.Create(rctx, data.Tenant)
	if err != nil {
		return errors.Wrap(err, "creating tenant")
	}
	owner, err := api.users.Create(rctx, tnt.ID, data.Owner)
	if err != nil {
		api.logger.Error(fmt.Sprintf("tenant %s created without an owner: %v", tnt.Slug, err), err)
		return errors.Wrap(err, "creating tenant owner")
	}

	token, err := GenerateToken(api.conf, NewClaims(api.conf, owner))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	tnt, err = api.svc.Get(rctx, tnt.ID)
	if err != nil {
		return errors.Wrap(err, "finding tenant")
	}
	return ctx.JSON(http.StatusCreated, SignupResponse{Tenant: tnt, Owner: owner, Token: token})
}

func (api *tenantApi) retrieve(ctx echo.Context) error {
	tnt, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tnt)
}

func (api *tenantApi) update(ctx echo.Context) error {
	tnt, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var data tenant.UpdateTenant
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTenant")
	}
	// tenants are (de)activated by the platform, not by themselves
	data.IsActive = nil
	if err = data.Validate(tnt, api.validate); err != nil {
		return err
	}

	tnt, err = api.svc.Update(ctx.Request().Context(), tnt.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating tenant")
	}
	return ctx.JSON(http.StatusOK, tnt)
}

func (api *tenantApi) changePlan(ctx echo.Context) error {
	var data tenant.ChangePlan
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePlan")
	}
	// custom limits are negotiated, not self-served
	data.Limits = nil
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tnt, err := api.svc.ChangePlan(ctx.Request().Context(), contextTenantID(ctx), data)
	if err != nil {
		return errors.Wrap(err, "changing plan")
	}
	return ctx.JSON(http.StatusOK, tnt)
}

func (api *tenantApi) queryPlans(ctx echo.Context) error {
	plans := make([]PlanResponse, 0, len(tenant.AllPlans))
	for _, p := range tenant.AllPlans {
		plans = append(plans, PlanResponse{Plan: p, Limits: tenant.PlanLimits(p)})
	}
	return ctx.JSON(http.StatusOK, plans)
}

func (api *tenantApi) usage(ctx echo.Context) error {
	report, err := api.svc.UsageReport(ctx.Request().Context(), contextTenantID(ctx))
	if err != nil {
		return errors.Wrap(err, "reporting usage")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *tenantApi) usageHistory(ctx echo.Context) error {
	records, err := api.svc.UsageHistory(ctx.Request().Context(), contextTenantID(ctx))
	if err != nil {
		return errors.Wrap(err, "querying usage history")
	}
	if records == nil {
		records = []tenant.UsageRecord{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *tenantApi) resetUsage(ctx echo.Context) error {
	var data ResetUsageRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUsageRequest")
	}

	res, err := api.svc.ResetUsage(ctx.Request().Context(), contextTenantID(ctx), core.NowFunc(), data.Force)
	if err != nil {
		return errors.Wrap(err, "resetting usage")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *tenantApi) recalculate(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	storage, err := api.svc.RecalculateStorage(rctx, tid)
	if err != nil {
		return errors.Wrap(err, "recalculating storage")
	}
	users, err := api.svc.RecountUsers(rctx, tid)
	if err != nil {
		return errors.Wrap(err, "recounting users")
	}
	return ctx.JSON(http.StatusOK, RecalculateResponse{StorageBytes: storage, Users: users})
}

type (
	SignupRequest struct {
		Tenant tenant.NewTenant `json:"tenant"`
		Owner  user.NewUser     `json:"owner"`
	}

	SignupResponse struct {
		Tenant tenant.Tenant `json:"tenant"`
		Owner  user.User     `json:"owner"`
		Token  string        `json:"token"`
	}

	PlanResponse struct {
		Plan   tenant.Plan   `json:"plan"`
		Limits tenant.Limits `json:"limits"`
	}

	ResetUsageRequest struct {
		Force bool `json:"force"`
	}

	RecalculateResponse struct {
		StorageBytes int64 `json:"storage_bytes"`
		Users        int64 `json:"users"`
	}
)
