package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/personnel"
)

type personnelApi struct {
	svc      personnel.Service
	validate *validator.Validate
}

func registerPersonnelAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := personnelApi{svc: deps.PersonnelSvc, validate: deps.Validate}

	pg := g.Group("/personnel", mw.auth)
	pg.GET("", api.query)
	pg.POST("", api.create, staffMiddleware())
	pg.GET("/available", api.available)
	pg.GET("/:id", api.retrieve)
	pg.PUT("/:id", api.update, staffMiddleware())
	pg.DELETE("/:id", api.destroy, staffMiddleware())
	pg.POST("/:id/time-off", api.addTimeOff, staffMiddleware())
	pg.DELETE("/:id/time-off/:timeOffID", api.removeTimeOff, staffMiddleware())
}

// Handlers

func (api *personnelApi) query(ctx echo.Context) error {
	filter := new(personnel.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []personnel.Personnel{})
	}
	filter.Clean()

	people, err := api.svc.Query(ctx.Request().Context(), contextTenantID(ctx), filter, bindOrdering(ctx, personnel.OrderingFields))
	if err != nil {
		return errors.Wrap(err, "querying personnel")
	}
	if people == nil {
		people = []personnel.Personnel{}
	}
	return ctx.JSON(http.StatusOK, people)
}

// available lists the active personnel working at a time (now by default) with every requested skill.
func (api *personnelApi) available(ctx echo.Context) error {
	tnt, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	at, err := bindTime(ctx, "at", tnt.Location())
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = core.NowFunc()
	}
	skills := core.CleanStrings(ctx.QueryParams()["skill"], true /* lower */)

	people, err := api.svc.Available(ctx.Request().Context(), tnt.ID, at, tnt.Timezone, skills...)
	if err != nil {
		return errors.Wrap(err, "finding available personnel")
	}
	if people == nil {
		people = []personnel.Personnel{}
	}
	return ctx.JSON(http.StatusOK, people)
}

func (api *personnelApi) create(ctx echo.Context) error {
	var data personnel.NewPersonnel
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPersonnel")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Create(ctx.Request().Context(), contextTenantID(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating personnel")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *personnelApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.Get(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding personnel")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *personnelApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	p, err := api.svc.Get(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding personnel")
	}
	var data personnel.UpdatePersonnel
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePersonnel")
	}
	if err = data.Validate(p, api.validate); err != nil {
		return err
	}

	p, err = api.svc.Update(rctx, tid, p.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating personnel")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *personnelApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting personnel")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *personnelApi) addTimeOff(ctx echo.Context) error {
	var data personnel.NewTimeOff
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTimeOff")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.AddTimeOff(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding time off")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *personnelApi) removeTimeOff(ctx echo.Context) error {
	p, err := api.svc.RemoveTimeOff(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"), ctx.Param("timeOffID"))
	if err != nil {
		return errors.Wrap(err, "removing time off")
	}
	return ctx.JSON(http.StatusOK, p)
}
