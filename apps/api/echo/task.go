package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/workorder"
)

type taskApi struct {
	svc       workorder.Service
	reminders schedule.Service
	validate  *validator.Validate
}

func registerTaskAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := taskApi{svc: deps.WorkOrderSvc, reminders: deps.ReminderSvc, validate: deps.Validate}

	tg := g.Group("/tasks", mw.auth)
	tg.GET("", api.query)
	tg.POST("", api.create)
	tg.GET("/:id", api.retrieve)
	tg.PUT("/:id", api.update)
	tg.POST("/:id/move", api.move)
	tg.DELETE("/:id", api.destroy, staffMiddleware())
	tg.GET("/:id/reminders", api.queryReminders)
}

// Handlers

func (api *taskApi) query(ctx echo.Context) error {
	filter := new(workorder.TaskFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []workorder.Task{})
	}
	filter.Clean()
	var err error
	if filter.DueFrom, filter.DueUntil, err = bindTimeRange(ctx, "due_from", "due_until", tenantLocation(ctx)); err != nil {
		return err
	}

	tasks, err := api.svc.QueryTasks(ctx.Request().Context(), contextTenantID(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	if tasks == nil {
		tasks = []workorder.Task{}
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *taskApi) create(ctx echo.Context) error {
	var data workorder.NewTask
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	task, err := api.svc.CreateTask(ctx.Request().Context(), claims.TenantID, claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating task")
	}
	return ctx.JSON(http.StatusCreated, task)
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	task, err := api.svc.GetTask(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding task")
	}
	return ctx.JSON(http.StatusOK, task)
}

func (api *taskApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	task, err := api.svc.GetTask(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding task")
	}
	var data workorder.UpdateTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTask")
	}
	if err = data.Validate(task, api.validate); err != nil {
		return err
	}

	task, err = api.svc.UpdateTask(rctx, tid, task.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating task")
	}
	return ctx.JSON(http.StatusOK, task)
}

// move places a task at a position of a board column.
func (api *taskApi) move(ctx echo.Context) error {
	var data workorder.MoveTask
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveTask")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	task, err := api.svc.MoveTask(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "moving task")
	}
	return ctx.JSON(http.StatusOK, task)
}

func (api *taskApi) destroy(ctx echo.Context) error {
	if err := api.svc.DeleteTask(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting task")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *taskApi) queryReminders(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	task, err := api.svc.GetTask(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding task")
	}
	reminders, err := api.reminders.Query(rctx, schedule.QueryFilter{
		TenantID: tid,
		TaskID:   task.ID,
		Status:   schedule.Status(ctx.QueryParam("status")),
	})
	if err != nil {
		return errors.Wrap(err, "querying reminders")
	}
	if reminders == nil {
		reminders = []schedule.Reminder{}
	}
	return ctx.JSON(http.StatusOK, reminders)
}
