package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/fieldops/core"
)

const (
	orderingParam = "ordering"
	dateLayout    = "2006-01-02"
)

// bindOrdering reads the "ordering" query param, keeping only the allowed fields.
func bindOrdering(ctx echo.Context, allowed map[string]string) []core.DBOrdering {
	return core.ParseOrdering(ctx.QueryParam(orderingParam), allowed)
}

// bindTime reads an RFC3339 instant or a YYYY-MM-DD date (local midnight in loc) from the query params.
// A missing param yields the zero time.
func bindTime(ctx echo.Context, param string, loc *time.Location) (time.Time, error) {
	val := ctx.QueryParam(param)
	if val == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(dateLayout, val, loc); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, core.NewValidationError(nil, core.FieldError{
		Field: param,
		Error: "must be an RFC3339 time or a YYYY-MM-DD date",
	})
}

// bindTimeRange reads a [from, to) range; to must not precede from.
func bindTimeRange(ctx echo.Context, fromParam, toParam string, loc *time.Location) (from, to time.Time, err error) {
	if from, err = bindTime(ctx, fromParam, loc); err != nil {
		return
	}
	if to, err = bindTime(ctx, toParam, loc); err != nil {
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = core.NewValidationError(nil, core.FieldError{Field: toParam, Error: "must be after " + fromParam})
	}
	return
}

// bindDate reads a YYYY-MM-DD date, falling back to def when missing.
func bindDate(ctx echo.Context, param string, loc *time.Location, def time.Time) (time.Time, error) {
	val := ctx.QueryParam(param)
	if val == "" {
		return def, nil
	}
	t, err := time.ParseInLocation(dateLayout, val, loc)
	if err != nil {
		return time.Time{}, core.NewValidationError(nil, core.FieldError{Field: param, Error: "must be a YYYY-MM-DD date"})
	}
	return t, nil
}

func bindBool(ctx echo.Context, param string) bool {
	b, _ := strconv.ParseBool(ctx.QueryParam(param))
	return b
}
