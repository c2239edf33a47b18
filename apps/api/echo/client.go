package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core/client"
)

type clientApi struct {
	svc      client.Service
	validate *validator.Validate
}

func registerClientAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := clientApi{svc: deps.ClientSvc, validate: deps.Validate}

	cg := g.Group("/clients", mw.auth)
	cg.GET("", api.query)
	cg.POST("", api.create, staffMiddleware())
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, staffMiddleware())
	cg.DELETE("/:id", api.destroy, staffMiddleware())
}

// Handlers

func (api *clientApi) query(ctx echo.Context) error {
	filter := new(client.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []client.Client{})
	}
	filter.Clean()

	clients, err := api.svc.Query(ctx.Request().Context(), contextTenantID(ctx), filter, bindOrdering(ctx, client.OrderingFields))
	if err != nil {
		return errors.Wrap(err, "querying clients")
	}
	if clients == nil {
		clients = []client.Client{}
	}
	return ctx.JSON(http.StatusOK, clients)
}

func (api *clientApi) create(ctx echo.Context) error {
	var data client.NewClient
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClient")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), contextTenantID(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *clientApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding client")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	c, err := api.svc.Get(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding client")
	}
	var data client.UpdateClient
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClient")
	}
	if err = data.Validate(c, api.validate); err != nil {
		return err
	}

	c, err = api.svc.Update(rctx, tid, c.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating client")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *clientApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting client")
	}
	return ctx.NoContent(http.StatusNoContent)
}
