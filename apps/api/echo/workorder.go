package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/workorder"
)

// maxCalendarDays bounds the range of a calendar request.
const maxCalendarDays = 92

type workOrderApi struct {
	svc      workorder.Service
	validate *validator.Validate
}

func registerWorkOrderAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := workOrderApi{svc: deps.WorkOrderSvc, validate: deps.Validate}

	wg := g.Group("/work-orders", mw.auth)
	wg.GET("", api.query)
	wg.POST("", api.create, staffMiddleware())
	wg.GET("/:id", api.retrieve)
	wg.PUT("/:id", api.update, staffMiddleware())
	wg.POST("/:id/transition", api.transition)
	wg.DELETE("/:id", api.destroy, staffMiddleware())
	wg.GET("/:id/board", api.workOrderBoard)

	g.GET("/board", api.board, mw.auth)
	g.GET("/calendar", api.calendar, mw.auth)
}

// Handlers

func (api *workOrderApi) query(ctx echo.Context) error {
	filter := new(workorder.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []workorder.WorkOrder{})
	}
	filter.Clean()
	var err error
	if filter.ScheduledFrom, filter.ScheduledUntil, err = bindTimeRange(ctx, "scheduled_from", "scheduled_until", tenantLocation(ctx)); err != nil {
		return err
	}

	orders, err := api.svc.Query(ctx.Request().Context(), contextTenantID(ctx), filter, bindOrdering(ctx, workorder.OrderingFields))
	if err != nil {
		return errors.Wrap(err, "querying work orders")
	}
	if orders == nil {
		orders = []workorder.WorkOrder{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *workOrderApi) create(ctx echo.Context) error {
	var data workorder.NewWorkOrder
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewWorkOrder")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	wo, err := api.svc.Create(ctx.Request().Context(), claims.TenantID, claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "creating work order")
	}
	return ctx.JSON(http.StatusCreated, wo)
}

func (api *workOrderApi) retrieve(ctx echo.Context) error {
	wo, err := api.svc.Get(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding work order")
	}
	return ctx.JSON(http.StatusOK, wo)
}

func (api *workOrderApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	wo, err := api.svc.Get(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding work order")
	}
	var data workorder.UpdateWorkOrder
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateWorkOrder")
	}
	if err = data.Validate(wo, api.validate); err != nil {
		return err
	}

	wo, err = api.svc.Update(rctx, tid, wo.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating work order")
	}
	return ctx.JSON(http.StatusOK, wo)
}

// transition moves a work order through its status machine; technicians may start, hold and complete work.
func (api *workOrderApi) transition(ctx echo.Context) error {
	var data workorder.Transition
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Transition")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if !(claims.IsAdmin || claims.IsSupervisor) && !isFieldTransition(data.Status) {
		return errHttpForbidden
	}

	wo, err := api.svc.Transition(ctx.Request().Context(), claims.TenantID, ctx.Param("id"), data.Status)
	if err != nil {
		return errors.Wrap(err, "transitioning work order")
	}
	return ctx.JSON(http.StatusOK, wo)
}

func isFieldTransition(s workorder.Status) bool {
	return s == workorder.StatusInProgress || s == workorder.StatusOnHold || s == workorder.StatusCompleted
}

func (api *workOrderApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting work order")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *workOrderApi) workOrderBoard(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	tid := contextTenantID(ctx)

	wo, err := api.svc.Get(rctx, tid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding work order")
	}
	board, err := api.svc.Board(rctx, tid, wo.ID)
	if err != nil {
		return errors.Wrap(err, "building board")
	}
	return ctx.JSON(http.StatusOK, board)
}

// board holds the tenant's tasks that belong to no work order.
func (api *workOrderApi) board(ctx echo.Context) error {
	board, err := api.svc.Board(ctx.Request().Context(), contextTenantID(ctx), "")
	if err != nil {
		return errors.Wrap(err, "building board")
	}
	return ctx.JSON(http.StatusOK, board)
}

// calendar groups events by local date; from and to are inclusive YYYY-MM-DD dates, the current month by default.
// The tz param overrides the tenant time zone.
func (api *workOrderApi) calendar(ctx echo.Context) error {
	loc := tenantLocation(ctx)
	if tz := core.CleanString(ctx.QueryParam("tz")); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "tz", Error: "unknown time zone"})
		}
	}

	y, m, _ := core.NowFunc().In(loc).Date()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	from, err := bindDate(ctx, "from", loc, monthStart)
	if err != nil {
		return err
	}
	to, err := bindDate(ctx, "to", loc, monthStart.AddDate(0, 1, -1))
	if err != nil {
		return err
	}
	if to.Before(from) {
		return core.NewValidationError(nil, core.FieldError{Field: "to", Error: "must be after from"})
	}
	if to.Sub(from) > maxCalendarDays*24*time.Hour {
		return core.NewValidationError(nil, core.FieldError{Field: "to", Error: "range is too long"})
	}

	days, err := api.svc.Calendar(ctx.Request().Context(), contextTenantID(ctx), from, to, loc)
	if err != nil {
		return errors.Wrap(err, "building calendar")
	}
	if days == nil {
		days = []workorder.CalendarDay{}
	}
	return ctx.JSON(http.StatusOK, days)
}
