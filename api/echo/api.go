// Package echo exposes the admin-facing HTTP surface: the Search
// Console connect flow, analytics proxying, and per-post SEO metadata.
package echo

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dranduil/wp-seo/domain"
	"github.com/dranduil/wp-seo/internal/connector"
	"github.com/dranduil/wp-seo/internal/httpx"
	"github.com/dranduil/wp-seo/internal/searchconsole"
	"github.com/dranduil/wp-seo/middleware"
)

// Envelope is the uniform response shape of every endpoint. Data holds
// the payload on success and {"message": ...} on failure.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// API holds the handler dependencies.
type API struct {
	connector *connector.Connector
	console   *searchconsole.Client
	metas     domain.SeoMetaRepository
	perms     connector.PermissionCheck
}

// NewAPI initializes the admin API.
func NewAPI(conn *connector.Connector, console *searchconsole.Client,
	metas domain.SeoMetaRepository, perms connector.PermissionCheck,
) *API {
	return &API{
		connector: conn,
		console:   console,
		metas:     metas,
		perms:     perms,
	}
}

// RegisterRoutes registers the admin routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	gsc := e.Group("/api/gsc")
	gsc.POST("/connect", a.ConnectHandler)
	gsc.GET("/callback", a.CallbackHandler)
	gsc.GET("/status", a.StatusHandler)
	gsc.POST("/disconnect", a.DisconnectHandler)
	gsc.POST("/analytics/query", a.AnalyticsQueryHandler)
	gsc.GET("/site", a.SiteHandler)

	posts := e.Group("/api/posts")
	posts.GET("/meta", a.ListMetaHandler)
	posts.GET("/:id/meta", a.GetMetaHandler)
	posts.PUT("/:id/meta", a.PutMetaHandler)
	posts.DELETE("/:id/meta", a.DeleteMetaHandler)

	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// ConnectHandler starts the authorization flow and returns the provider
// URL the admin browser should be sent to.
func (a *API) ConnectHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	authURL, err := a.connector.BeginAuthorization(ctx, tenantID)
	if err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"auth_url": authURL})
}

// CallbackHandler completes the flow when the provider redirects back
// with a code and the state minted by ConnectHandler.
func (a *API) CallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	if errCode := c.QueryParam("error"); errCode != "" {
		// The provider reported the denial on the redirect itself; there
		// is no code to exchange.
		log.Warn().Str("tenant_id", tenantID).Str("error", errCode).Msg("authorization denied by provider")
		return failWith(c, http.StatusBadGateway, "Authorization was denied: "+errCode)
	}

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return failWith(c, http.StatusBadRequest, "Missing code or state parameter.")
	}

	if err := a.connector.CompleteAuthorization(ctx, tenantID, code, state); err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"message": "Successfully connected to Google Search Console."})
}

// StatusHandler reports the tenant's derived connection state.
func (a *API) StatusHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	state, err := a.connector.Status(ctx, tenantID)
	if err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{"state": state})
}

// DisconnectHandler severs the integration for the tenant.
func (a *API) DisconnectHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	if err := a.connector.Disconnect(ctx, tenantID); err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"message": "Disconnected from Google Search Console."})
}

// AnalyticsQueryHandler proxies a search analytics query for the
// tenant's site.
func (a *API) AnalyticsQueryHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)
	if !a.perms.CurrentUserMayManageIntegration(ctx) {
		return a.fail(c, connector.ErrPermissionDenied)
	}

	var query searchconsole.AnalyticsQuery
	if err := c.Bind(&query); err != nil {
		return failWith(c, http.StatusBadRequest, "Malformed request body.")
	}
	if query.StartDate == "" || query.EndDate == "" {
		return failWith(c, http.StatusBadRequest, "startDate and endDate are required.")
	}

	rows, err := a.console.QueryAnalytics(ctx, tenantID, tenantID, query)
	if err != nil {
		return a.fail(c, err)
	}
	if rows == nil {
		rows = []searchconsole.AnalyticsRow{}
	}
	return ok(c, http.StatusOK, map[string]any{"rows": rows})
}

// SiteHandler reports the connected account's standing for the
// tenant's site in Search Console.
func (a *API) SiteHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)
	if !a.perms.CurrentUserMayManageIntegration(ctx) {
		return a.fail(c, connector.ErrPermissionDenied)
	}

	info, err := a.console.GetSite(ctx, tenantID, tenantID)
	if err != nil && !errors.Is(err, searchconsole.ErrSiteNotVerified) {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{
		"site_url":         info.SiteURL,
		"permission_level": info.PermissionLevel,
		"verified":         !errors.Is(err, searchconsole.ErrSiteNotVerified),
	})
}

// ListMetaHandler returns the SEO metadata records of the tenant,
// sorted by post, up to the requested limit.
func (a *API) ListMetaHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	metas, err := a.metas.List(ctx, tenantID, limit)
	if err != nil {
		return a.fail(c, err)
	}
	if metas == nil {
		metas = []*domain.SeoMeta{}
	}
	return ok(c, http.StatusOK, map[string]any{"posts": metas})
}

// GetMetaHandler returns the SEO metadata stored for a post.
func (a *API) GetMetaHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	meta, err := a.metas.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, meta)
}

// PutMetaHandler stores the SEO metadata for a post, replacing any
// previous record.
func (a *API) PutMetaHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	var meta domain.SeoMeta
	if err := c.Bind(&meta); err != nil {
		return failWith(c, http.StatusBadRequest, "Malformed request body.")
	}
	// Identity comes from the route and the resolved tenant, never from
	// the body.
	meta.TenantID = tenantID
	meta.PostID = c.Param("id")
	meta.UpdatedAt = time.Now()

	if err := a.metas.Upsert(ctx, &meta); err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, meta)
}

// DeleteMetaHandler removes the SEO metadata for a post. Idempotent.
func (a *API) DeleteMetaHandler(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := middleware.TenantFrom(ctx)

	if err := a.metas.Delete(ctx, tenantID, c.Param("id")); err != nil {
		return a.fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"message": "SEO metadata deleted."})
}

// HealthHandler is the liveness probe.
func (a *API) HealthHandler(c echo.Context) error {
	return ok(c, http.StatusOK, map[string]string{"status": "ok"})
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

func failWith(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Data: map[string]string{"message": message}})
}

// fail maps a domain error onto an HTTP status and a message the admin
// UI can show verbatim.
func (a *API) fail(c echo.Context, err error) error {
	var providerErr *connector.ProviderError
	var statusErr *httpx.StatusError

	switch {
	case errors.Is(err, connector.ErrPermissionDenied):
		return failWith(c, http.StatusForbidden, "You are not allowed to manage the Search Console integration.")
	case errors.Is(err, connector.ErrStateMismatch):
		return failWith(c, http.StatusBadRequest, "The state parameter belongs to a different flow or site. Please restart the connection.")
	case errors.Is(err, connector.ErrInvalidState):
		return failWith(c, http.StatusBadRequest, "Invalid or expired state parameter. Please restart the connection.")
	case errors.Is(err, connector.ErrRedirectURIMismatch):
		return failWith(c, http.StatusBadGateway, "Google rejected the redirect URI. Check the OAuth client configuration.")
	case errors.Is(err, connector.ErrReauthorizationRequired):
		return failWith(c, http.StatusUnauthorized, "The stored authorization is no longer valid. Please reconnect.")
	case errors.Is(err, connector.ErrNotConnected):
		return failWith(c, http.StatusUnauthorized, "Search Console is not connected.")
	case errors.Is(err, searchconsole.ErrSiteNotVerified):
		return failWith(c, http.StatusForbidden, "The connected account has no access to this site in Search Console.")
	case errors.Is(err, domain.ErrSeoMetaNotFound):
		return failWith(c, http.StatusNotFound, "No SEO metadata stored for this post.")
	case errors.As(err, &providerErr):
		return failWith(c, http.StatusBadGateway, "Google rejected the request: "+providerErr.Error())
	case errors.Is(err, httpx.ErrTimeout):
		return failWith(c, http.StatusGatewayTimeout, "Google did not respond in time. Please try again.")
	case errors.As(err, &statusErr):
		return failWith(c, http.StatusBadGateway, "Unexpected response from Google.")
	default:
		log.Error().Err(err).Msg("request failed")
		return failWith(c, http.StatusInternalServerError, "Internal server error.")
	}
}
