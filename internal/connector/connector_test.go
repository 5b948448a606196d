package connector_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dranduil/wp-seo/cache"
	"github.com/dranduil/wp-seo/domain"
	"github.com/dranduil/wp-seo/internal/connector"
	"github.com/dranduil/wp-seo/internal/httpx"
	"github.com/dranduil/wp-seo/internal/statetoken"
)

const testTenant = "https://blog.example.com"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type stubPoster struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	respond func(endpoint string, fields url.Values) (map[string]any, error)
}

func (p *stubPoster) PostForm(_ context.Context, endpoint string, fields url.Values) (map[string]any, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.respond(endpoint, fields)
}

func (p *stubPoster) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubPerms struct{ allow bool }

func (p *stubPerms) CurrentUserMayManageIntegration(context.Context) bool { return p.allow }

func tokenResponse(access, refresh string, expiresIn float64) map[string]any {
	resp := map[string]any{
		"access_token": access,
		"expires_in":   expiresIn,
		"scope":        "https://www.googleapis.com/auth/webmasters.readonly",
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	return resp
}

type fixture struct {
	conn   *connector.Connector
	creds  *cache.MemoryCredentialStore
	states *cache.MemoryStateStore
	poster *stubPoster
	clock  *fakeClock
}

func newFixture(t *testing.T, poster *stubPoster) *fixture {
	t.Helper()
	f := &fixture{
		creds:  cache.NewMemoryCredentialStore(),
		states: cache.NewMemoryStateStore(),
		poster: poster,
		clock:  &fakeClock{t: time.Unix(1000, 0)},
	}
	t.Cleanup(f.states.Close)
	f.conn = connector.New(connector.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://blog.example.com/gsc/callback",
		Scopes:       []string{"https://www.googleapis.com/auth/webmasters.readonly"},
	}, f.creds, f.states, poster, &stubPerms{allow: true}, connector.WithClock(f.clock.Now))
	return f
}

// beginAndExtractState runs BeginAuthorization and pulls the encoded
// state parameter out of the returned URL.
func beginAndExtractState(t *testing.T, f *fixture) string {
	t.Helper()
	authURL, err := f.conn.BeginAuthorization(context.Background(), testTenant)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestAuthorizationFlowHappyPath(t *testing.T) {
	poster := &stubPoster{respond: func(endpoint string, fields url.Values) (map[string]any, error) {
		assert.Equal(t, "authorization_code", fields.Get("grant_type"))
		assert.Equal(t, "abc", fields.Get("code"))
		assert.Equal(t, "https://blog.example.com/gsc/callback", fields.Get("redirect_uri"))
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	state, err := f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, state)

	rawState := beginAndExtractState(t, f)

	state, err = f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionPending, state)

	// Callback arrives 500s after the URL was built, well inside the
	// 30 minute state window.
	f.clock.Set(time.Unix(1500, 0))
	require.NoError(t, f.conn.CompleteAuthorization(ctx, testTenant, "abc", rawState))

	state, err = f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionConnected, state)

	token, err := f.conn.GetValidAccessToken(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "X", token)
	assert.Equal(t, 1, poster.callCount(), "a valid token must be returned without further network calls")
}

func TestCompleteAuthorizationExpiredState(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	rawState := beginAndExtractState(t, f)

	// 2000s later the 1800s window has closed.
	f.clock.Set(time.Unix(3000, 0))
	err := f.conn.CompleteAuthorization(ctx, testTenant, "abc", rawState)
	require.ErrorIs(t, err, connector.ErrInvalidState)
	require.ErrorIs(t, err, statetoken.ErrExpired)
	assert.Zero(t, poster.callCount(), "expired state must be rejected before any network call")

	cred, err := f.creds.Get(ctx, testTenant)
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestCompleteAuthorizationWrongPurpose(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	wrong, err := statetoken.Issue("export", testTenant, f.clock.Now())
	require.NoError(t, err)

	err = f.conn.CompleteAuthorization(ctx, testTenant, "abc", statetoken.Encode(wrong))
	require.ErrorIs(t, err, connector.ErrStateMismatch)
	assert.Zero(t, poster.callCount())

	state, err := f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, state)
}

func TestCompleteAuthorizationWrongOrigin(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)

	foreign, err := statetoken.Issue(connector.PurposeConnect, "https://other-site.example.org", f.clock.Now())
	require.NoError(t, err)

	err = f.conn.CompleteAuthorization(context.Background(), testTenant, "abc", statetoken.Encode(foreign))
	require.ErrorIs(t, err, connector.ErrStateMismatch)
}

func TestCompleteAuthorizationReplayedState(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	rawState := beginAndExtractState(t, f)
	require.NoError(t, f.conn.CompleteAuthorization(ctx, testTenant, "abc", rawState))

	// Replaying the same callback must fail: the nonce is single-use.
	err := f.conn.CompleteAuthorization(ctx, testTenant, "abc", rawState)
	require.ErrorIs(t, err, connector.ErrInvalidState)
	assert.Equal(t, 1, poster.callCount(), "the code must be exchanged at most once")
}

func TestCompleteAuthorizationRedirectURIMismatch(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, &httpx.StatusError{
			StatusCode: 400,
			Body: map[string]any{
				"error":             "redirect_uri_mismatch",
				"error_description": "The redirect_uri does not match the registered value",
			},
		}
	}}
	f := newFixture(t, poster)

	rawState := beginAndExtractState(t, f)
	err := f.conn.CompleteAuthorization(context.Background(), testTenant, "abc", rawState)
	require.ErrorIs(t, err, connector.ErrRedirectURIMismatch)
}

func TestCompleteAuthorizationProviderRejected(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, &httpx.StatusError{
			StatusCode: 400,
			Body:       map[string]any{"error": "invalid_client"},
		}
	}}
	f := newFixture(t, poster)

	rawState := beginAndExtractState(t, f)
	err := f.conn.CompleteAuthorization(context.Background(), testTenant, "abc", rawState)

	var provErr *connector.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "invalid_client", provErr.Code)
}

func TestGetValidAccessTokenRefreshes(t *testing.T) {
	poster := &stubPoster{respond: func(_ string, fields url.Values) (map[string]any, error) {
		assert.Equal(t, "refresh_token", fields.Get("grant_type"))
		assert.Equal(t, "refresh-1", fields.Get("refresh_token"))
		return tokenResponse("fresh", "", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:     testTenant,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(-time.Minute),
	}))

	token, err := f.conn.GetValidAccessToken(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	// The refresh token was not rotated, so the old one survives.
	cred, err := f.creds.Get(ctx, testTenant)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.Equal(t, "fresh", cred.AccessToken)
}

func TestGetValidAccessTokenRefreshRace(t *testing.T) {
	poster := &stubPoster{
		delay: 50 * time.Millisecond,
		respond: func(string, url.Values) (map[string]any, error) {
			return tokenResponse("fresh", "", 3600), nil
		},
	}
	f := newFixture(t, poster)
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:     testTenant,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(-time.Minute),
	}))

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.conn.GetValidAccessToken(ctx, testTenant)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "fresh", results[0])
	assert.Equal(t, "fresh", results[1])
	assert.Equal(t, 1, poster.callCount(), "concurrent callers must share a single refresh")
}

func TestGetValidAccessTokenRefreshRejected(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, &httpx.StatusError{
			StatusCode: 400,
			Body:       map[string]any{"error": "invalid_grant"},
		}
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:     testTenant,
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    f.clock.Now().Add(-time.Minute),
	}))

	_, err := f.conn.GetValidAccessToken(ctx, testTenant)
	require.ErrorIs(t, err, connector.ErrReauthorizationRequired)

	// The only failure that mutates local state: the credential is gone.
	cred, err := f.creds.Get(ctx, testTenant)
	require.NoError(t, err)
	assert.Nil(t, cred)

	state, err := f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, state)
}

func TestGetValidAccessTokenTransientRefreshFailureKeepsCredential(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, &httpx.StatusError{StatusCode: 503}
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:     testTenant,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(-time.Minute),
	}))

	_, err := f.conn.GetValidAccessToken(ctx, testTenant)
	require.Error(t, err)
	assert.NotErrorIs(t, err, connector.ErrReauthorizationRequired)

	cred, err := f.creds.Get(ctx, testTenant)
	require.NoError(t, err)
	assert.NotNil(t, cred, "a transient provider failure must not delete the credential")
}

func TestGetValidAccessTokenExpiredWithoutRefreshToken(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		t.Fatal("no network call expected without a refresh token")
		return nil, nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:    testTenant,
		AccessToken: "stale",
		ExpiresAt:   f.clock.Now().Add(-time.Minute),
	}))

	_, err := f.conn.GetValidAccessToken(ctx, testTenant)
	require.ErrorIs(t, err, connector.ErrReauthorizationRequired)
	assert.Zero(t, poster.callCount())
}

func TestGetValidAccessTokenNotConnected(t *testing.T) {
	f := newFixture(t, &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, nil
	}})

	_, err := f.conn.GetValidAccessToken(context.Background(), testTenant)
	require.ErrorIs(t, err, connector.ErrNotConnected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	poster := &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return tokenResponse("X", "Y", 3600), nil
	}}
	f := newFixture(t, poster)
	ctx := context.Background()

	rawState := beginAndExtractState(t, f)
	require.NoError(t, f.conn.CompleteAuthorization(ctx, testTenant, "abc", rawState))

	require.NoError(t, f.conn.Disconnect(ctx, testTenant))
	require.NoError(t, f.conn.Disconnect(ctx, testTenant))

	state, err := f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, state)
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t, &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, nil
	}})
	denied := connector.New(connector.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://blog.example.com/gsc/callback",
	}, f.creds, f.states, f.poster, &stubPerms{allow: false})

	_, err := denied.BeginAuthorization(context.Background(), testTenant)
	require.ErrorIs(t, err, connector.ErrPermissionDenied)

	err = denied.Disconnect(context.Background(), testTenant)
	require.ErrorIs(t, err, connector.ErrPermissionDenied)
}

func TestStatusExpiredCredential(t *testing.T) {
	f := newFixture(t, &stubPoster{respond: func(string, url.Values) (map[string]any, error) {
		return nil, nil
	}})
	ctx := context.Background()

	require.NoError(t, f.creds.Put(ctx, &domain.Credential{
		TenantID:     testTenant,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(-time.Minute),
	}))

	state, err := f.conn.Status(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionExpired, state)
}
