package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

// eventSnapshot is the first event of a stream, carrying the unread count.
const eventSnapshot = "notification.snapshot"

type notificationApi struct {
	svc      notification.Service
	validate *validator.Validate
	logger   core.Logger
}

func registerNotificationAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := notificationApi{svc: deps.NotificationSvc, validate: deps.Validate, logger: deps.Logger}

	ng := g.Group("/notifications")
	ng.GET("", api.query, mw.auth)
	ng.GET("/unread-count", api.unreadCount, mw.auth)
	ng.POST("/read", api.markRead, mw.auth)
	ng.POST("/read-all", api.markAllRead, mw.auth)
	ng.DELETE("/:id", api.destroy, mw.auth)
	ng.GET("/stream", api.stream, mw.streamAuth)
}

type (
	MarkReadRequest struct {
		IDs []string `json:"ids" validate:"required,min=1,dive,required"`
	}

	UpdatedResponse struct {
		Updated int `json:"updated"`
	}

	UnreadCountResponse struct {
		Unread int `json:"unread"`
	}
)

// Handlers

func (api *notificationApi) query(ctx echo.Context) error {
	var filter notification.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []notification.Notification{})
	}
	filter.Clean()
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	notifs, err := api.svc.Query(ctx.Request().Context(), claims.TenantID, claims.Subject, filter)
	if err != nil {
		return errors.Wrap(err, "querying notifications")
	}
	if notifs == nil {
		notifs = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *notificationApi) unreadCount(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.UnreadCount(ctx.Request().Context(), claims.TenantID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, UnreadCountResponse{Unread: n})
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	var data MarkReadRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}
	data.IDs = core.CleanStrings(data.IDs)
	if err := api.validate.Struct(data); err != nil {
		return core.NewValidationError(err)
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	n, err := api.svc.MarkRead(ctx.Request().Context(), claims.TenantID, claims.Subject, data.IDs...)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, UpdatedResponse{Updated: n})
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	n, err := api.svc.MarkAllRead(ctx.Request().Context(), claims.TenantID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "marking all notifications read")
	}
	return ctx.JSON(http.StatusOK, UpdatedResponse{Updated: n})
}

func (api *notificationApi) destroy(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), claims.TenantID, claims.Subject, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// stream pushes the events of the current user over a websocket until either side goes away.
func (api *notificationApi) stream(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	unread, err := api.svc.UnreadCount(rctx, claims.TenantID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	events, cancel, err := api.svc.Subscribe(rctx, claims.TenantID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "subscribing to notifications")
	}
	defer cancel()

	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		// the client never sends anything; a failed read means it is gone
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			var discard []byte
			for websocket.Message.Receive(ws, &discard) == nil {
			}
		}()

		snapshot := notification.Event{
			Type:        eventSnapshot,
			TenantID:    claims.TenantID,
			UserID:      claims.Subject,
			UnreadCount: unread,
		}
		if err := websocket.JSON.Send(ws, snapshot); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := websocket.JSON.Send(ws, ev); err != nil {
					api.logger.Info("notification stream closed: " + err.Error())
					return
				}
			case <-gone:
				return
			case <-rctx.Done():
				return
			}
		}
	}).ServeHTTP(ctx.Response(), ctx.Request())
	return nil
}
