// Package searchconsole proxies Search Analytics queries and site
// verification lookups to the Google Search Console API, authenticated
// with the bearer token managed by the connector.
package searchconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/dranduil/wp-seo/internal/metrics"
)

const defaultAPIBase = "https://www.googleapis.com/webmasters/v3"

// ErrSiteNotVerified means the connected account has no access to the
// site in Search Console.
var ErrSiteNotVerified = errors.New("site is not verified in search console")

// TokenSource yields a currently valid bearer token for a tenant. The
// connector implements it; it refreshes behind the scenes when needed.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, tenantID string) (string, error)
}

// HTTPClient is the subset of httpx.Client this package needs.
type HTTPClient interface {
	GetJSON(ctx context.Context, endpoint, bearerToken string) (map[string]any, error)
	PostJSON(ctx context.Context, endpoint, bearerToken string, body any) (map[string]any, error)
}

// AnalyticsQuery mirrors the searchAnalytics.query request body.
type AnalyticsQuery struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	RowLimit   int      `json:"rowLimit,omitempty"`
}

// AnalyticsRow is one row of the query response.
type AnalyticsRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// SiteInfo is the sites.get response.
type SiteInfo struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

type Client struct {
	apiBase string
	tokens  TokenSource
	http    HTTPClient
}

// Option configures a Client.
type Option func(*Client)

// WithAPIBase overrides the API base URL, for tests.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

func NewClient(tokens TokenSource, httpClient HTTPClient, opts ...Option) *Client {
	c := &Client{apiBase: defaultAPIBase, tokens: tokens, http: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryAnalytics runs a searchAnalytics.query for the tenant's site.
func (c *Client) QueryAnalytics(ctx context.Context, tenantID, siteURL string, query AnalyticsQuery) ([]AnalyticsRow, error) {
	if query.StartDate == "" || query.EndDate == "" {
		return nil, errors.New("startDate and endDate are required")
	}
	if len(query.Dimensions) == 0 {
		query.Dimensions = []string{"query"}
	}
	if query.RowLimit <= 0 {
		query.RowLimit = 10
	}

	token, err := c.tokens.GetValidAccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.apiBase, url.PathEscape(siteURL))
	resp, err := c.http.PostJSON(ctx, endpoint, token, query)
	if err != nil {
		return nil, fmt.Errorf("search analytics query: %w", err)
	}

	var rows []AnalyticsRow
	if raw, ok := resp["rows"]; ok {
		// Re-marshal the generic rows into the typed shape.
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding analytics rows: %w", err)
		}
		if err := json.Unmarshal(buf, &rows); err != nil {
			return nil, fmt.Errorf("decoding analytics rows: %w", err)
		}
	}

	metrics.AnalyticsQueriesTotal.Inc()
	log.Debug().
		Str("tenant_id", tenantID).
		Str("site_url", siteURL).
		Int("rows", len(rows)).
		Msg("search analytics query completed")

	return rows, nil
}

// GetSite fetches the tenant's verification standing for the site.
func (c *Client) GetSite(ctx context.Context, tenantID, siteURL string) (*SiteInfo, error) {
	token, err := c.tokens.GetValidAccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/sites/%s", c.apiBase, url.PathEscape(siteURL))
	resp, err := c.http.GetJSON(ctx, endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("fetching site info: %w", err)
	}

	info := &SiteInfo{}
	info.SiteURL, _ = resp["siteUrl"].(string)
	info.PermissionLevel, _ = resp["permissionLevel"].(string)
	if info.PermissionLevel == "siteUnverifiedUser" {
		return info, ErrSiteNotVerified
	}
	return info, nil
}
