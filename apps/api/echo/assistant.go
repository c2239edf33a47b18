package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core/assistant"
)

type assistantApi struct {
	svc      assistant.Service
	validate *validator.Validate
}

func registerAssistantAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := assistantApi{svc: deps.AssistantSvc, validate: deps.Validate}

	ag := g.Group("/assistant", mw.auth, mw.limit)
	ag.POST("/parse", api.parse)
	ag.POST("/tasks", api.execute)
}

// Handlers

// parse returns the structured operation of a command without applying it.
func (api *assistantApi) parse(ctx echo.Context) error {
	var cmd assistant.Command
	if err := ctx.Bind(&cmd); err != nil {
		return errors.Wrap(err, "binding to Command")
	}
	if err := cmd.Validate(api.validate); err != nil {
		return err
	}

	op, err := api.svc.Parse(ctx.Request().Context(), contextTenantID(ctx), cmd)
	if err != nil {
		return errors.Wrap(err, "parsing command")
	}
	return ctx.JSON(http.StatusOK, op)
}

func (api *assistantApi) execute(ctx echo.Context) error {
	var cmd assistant.Command
	if err := ctx.Bind(&cmd); err != nil {
		return errors.Wrap(err, "binding to Command")
	}
	if err := cmd.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	res, err := api.svc.Execute(ctx.Request().Context(), claims.TenantID, claims.Subject, cmd)
	if err != nil {
		return errors.Wrap(err, "executing command")
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, res)
}
