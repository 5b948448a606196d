package searchconsole_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dranduil/wp-seo/internal/httpx"
	"github.com/dranduil/wp-seo/internal/searchconsole"
)

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) GetValidAccessToken(context.Context, string) (string, error) {
	return s.token, s.err
}

func TestQueryAnalytics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/sites/https:%2F%2Fblog.example.com/searchAnalytics/query", r.URL.EscapedPath())

		var body searchconsole.AnalyticsQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2026-08-01", body.StartDate)
		assert.Equal(t, []string{"query"}, body.Dimensions, "dimensions default to query")
		assert.Equal(t, 10, body.RowLimit, "row limit defaults to 10")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows":[
			{"keys":["seo plugin"],"clicks":42,"impressions":1200,"ctr":0.035,"position":3.2},
			{"keys":["meta descriptions"],"clicks":7,"impressions":310,"ctr":0.022,"position":8.9}
		]}`))
	}))
	defer server.Close()

	client := searchconsole.NewClient(
		&staticTokens{token: "token-1"},
		httpx.NewClient(5*time.Second),
		searchconsole.WithAPIBase(server.URL),
	)

	rows, err := client.QueryAnalytics(context.Background(), "tenant-1", "https://blog.example.com", searchconsole.AnalyticsQuery{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-28",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"seo plugin"}, rows[0].Keys)
	assert.Equal(t, float64(42), rows[0].Clicks)
	assert.Equal(t, 3.2, rows[0].Position)
}

func TestQueryAnalyticsRequiresDateRange(t *testing.T) {
	client := searchconsole.NewClient(&staticTokens{token: "token-1"}, httpx.NewClient(time.Second))

	_, err := client.QueryAnalytics(context.Background(), "tenant-1", "https://blog.example.com", searchconsole.AnalyticsQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startDate")
}

func TestQueryAnalyticsProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient permissions"}}`))
	}))
	defer server.Close()

	client := searchconsole.NewClient(
		&staticTokens{token: "token-1"},
		httpx.NewClient(5*time.Second),
		searchconsole.WithAPIBase(server.URL),
	)

	_, err := client.QueryAnalytics(context.Background(), "tenant-1", "https://blog.example.com", searchconsole.AnalyticsQuery{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-28",
	})
	require.Error(t, err)

	var statusErr *httpx.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestGetSite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"siteUrl":"https://blog.example.com/","permissionLevel":"siteOwner"}`))
	}))
	defer server.Close()

	client := searchconsole.NewClient(
		&staticTokens{token: "token-1"},
		httpx.NewClient(5*time.Second),
		searchconsole.WithAPIBase(server.URL),
	)

	info, err := client.GetSite(context.Background(), "tenant-1", "https://blog.example.com")
	require.NoError(t, err)
	assert.Equal(t, "siteOwner", info.PermissionLevel)
}

func TestGetSiteUnverified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"siteUrl":"https://blog.example.com/","permissionLevel":"siteUnverifiedUser"}`))
	}))
	defer server.Close()

	client := searchconsole.NewClient(
		&staticTokens{token: "token-1"},
		httpx.NewClient(5*time.Second),
		searchconsole.WithAPIBase(server.URL),
	)

	_, err := client.GetSite(context.Background(), "tenant-1", "https://blog.example.com")
	require.ErrorIs(t, err, searchconsole.ErrSiteNotVerified)
}
