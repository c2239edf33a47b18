package echoapi

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/attachment"
)

const uploadField = "file"

type attachmentApi struct {
	svc      attachment.Service
	validate *validator.Validate
}

func registerAttachmentAPI(g *echo.Group, mw routeMiddleware, deps ServerDeps) {
	api := attachmentApi{svc: deps.AttachmentSvc, validate: deps.Validate}

	g.GET("/work-orders/:id/attachments", api.list, mw.auth)
	g.POST("/work-orders/:id/attachments", api.upload, mw.auth)

	ag := g.Group("/attachments", mw.auth)
	ag.GET("/:id", api.retrieve)
	ag.GET("/:id/download", api.download)
	ag.DELETE("/:id", api.destroy, staffMiddleware())
}

// Handlers

func (api *attachmentApi) list(ctx echo.Context) error {
	atts, err := api.svc.List(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing attachments")
	}
	if atts == nil {
		atts = []attachment.Attachment{}
	}
	return ctx.JSON(http.StatusOK, atts)
}

// upload stores the multipart "file" field.
func (api *attachmentApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: uploadField, Error: "this field is required"})
	}
	if fh.Size > attachment.MaxSize {
		return core.NewValidationError(nil, core.FieldError{
			Field: uploadField,
			Error: "file is larger than " + strconv.Itoa(attachment.MaxSize>>20) + "MB",
		})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	up := attachment.Upload{
		WorkOrderID: ctx.Param("id"),
		Name:        fh.Filename,
		Size:        fh.Size,
		Content:     f,
	}
	if err = up.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	att, err := api.svc.Upload(ctx.Request().Context(), claims.TenantID, claims.Subject, up)
	if err != nil {
		return errors.Wrap(err, "uploading attachment")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *attachmentApi) retrieve(ctx echo.Context) error {
	att, err := api.svc.Get(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding attachment")
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *attachmentApi) download(ctx echo.Context) error {
	rc, att, err := api.svc.Download(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "downloading attachment")
	}
	defer rc.Close()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": att.Name}))
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(att.Size, 10))
	return ctx.Stream(http.StatusOK, att.ContentType, rc)
}

func (api *attachmentApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), contextTenantID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting attachment")
	}
	return ctx.NoContent(http.StatusNoContent)
}
