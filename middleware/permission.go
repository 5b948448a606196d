// Package middleware carries the request-scoped concerns of the HTTP
// surface: tenant resolution and the management permission gate the
// connector consults before mutating integration state.
package middleware

import (
	"context"
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	// HeaderManagementKey authenticates integration-management calls.
	HeaderManagementKey = "X-Management-Key"
	// HeaderTenantID selects the tenant a request acts on.
	HeaderTenantID = "X-Tenant-Id"
)

type contextKey string

const (
	authorizedKey contextKey = "wpseo.management-authorized"
	tenantKey     contextKey = "wpseo.tenant-id"
)

// ResolveTenant stores the request's tenant in the context: the
// X-Tenant-Id header when present, the configured default otherwise.
func ResolveTenant(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get(HeaderTenantID)
			if tenantID == "" {
				tenantID = defaultTenant
			}
			ctx := context.WithValue(c.Request().Context(), tenantKey, tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// TenantFrom returns the tenant the request was resolved to.
func TenantFrom(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey).(string)
	return tenantID
}

// ManagementAuth marks the request as management-authorized when the
// caller presents the configured key. An empty configured key disables
// the gate; that is only acceptable for local development.
func ManagementAuth(managementKey string) echo.MiddlewareFunc {
	if managementKey == "" {
		log.Warn().Msg("management key not configured, integration management is open")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := c.Request().Header.Get(HeaderManagementKey)
			if managementKey == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(managementKey)) == 1 {
				c.SetRequest(c.Request().WithContext(Authorize(c.Request().Context())))
			}
			return next(c)
		}
	}
}

// Authorize marks a context as management-authorized. Exposed for
// tests and non-HTTP callers.
func Authorize(ctx context.Context) context.Context {
	return context.WithValue(ctx, authorizedKey, true)
}

// KeyPermissionCheck implements the connector's PermissionCheck from
// the marker set by ManagementAuth.
type KeyPermissionCheck struct{}

func (KeyPermissionCheck) CurrentUserMayManageIntegration(ctx context.Context) bool {
	authorized, _ := ctx.Value(authorizedKey).(bool)
	return authorized
}
