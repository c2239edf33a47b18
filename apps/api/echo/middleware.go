package echoapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core/tenant"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets admins and supervisors through; they manage the work technicians carry out.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsSupervisor {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// tenantMiddleware loads the tenant of the token and refuses requests to deactivated tenants.
func tenantMiddleware(svc tenant.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			tnt, err := svc.Get(ctx.Request().Context(), claims.TenantID)
			if err != nil {
				if errors.Cause(err) == tenant.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding context tenant")
			}
			if !tnt.IsActive {
				return tenant.ErrTenantInactive
			}
			ctx.Set(contextTenantKey, tnt)
			return next(ctx)
		}
	}
}

func getContextTenant(ctx echo.Context) (tenant.Tenant, error) {
	if tnt, ok := ctx.Get(contextTenantKey).(tenant.Tenant); ok {
		return tnt, nil
	}
	return tenant.Tenant{}, errUnauthorized
}

// tenantLocation is the time zone of the context tenant, UTC when unknown.
func tenantLocation(ctx echo.Context) *time.Location {
	if tnt, err := getContextTenant(ctx); err == nil {
		return tnt.Location()
	}
	return time.UTC
}
