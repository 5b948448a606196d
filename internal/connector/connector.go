// Package connector drives the Search Console OAuth2 authorization
// lifecycle for each tenant: building the authorization URL, validating
// the state-carrying callback, exchanging the code, and keeping the
// persisted credential fresh behind a single accessor.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dranduil/wp-seo/domain"
	"github.com/dranduil/wp-seo/internal/httpx"
	"github.com/dranduil/wp-seo/internal/metrics"
	"github.com/dranduil/wp-seo/internal/statetoken"
)

// PurposeConnect tags state tokens minted for the connect flow; a token
// minted for any other flow is rejected on callback.
const PurposeConnect = "connect"

const (
	defaultAuthEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenEndpoint = "https://oauth2.googleapis.com/token"

	// defaultExpirySkew is subtracted from the stored expiry so a token
	// is refreshed slightly before the provider would reject it.
	defaultExpirySkew = 30 * time.Second
)

var (
	// ErrPermissionDenied means the caller may not manage the integration.
	ErrPermissionDenied = errors.New("not allowed to manage the search console integration")
	// ErrNotConnected means no credential is stored for the tenant.
	ErrNotConnected = errors.New("search console is not connected")
	// ErrInvalidState wraps every state decode failure and nonce replay.
	ErrInvalidState = errors.New("invalid state parameter")
	// ErrStateMismatch means a structurally valid state token was minted
	// for a different flow or a different site.
	ErrStateMismatch = errors.New("state token purpose or origin mismatch")
	// ErrRedirectURIMismatch surfaces the provider's named complaint
	// about the redirect URI, distinct from other provider errors.
	ErrRedirectURIMismatch = errors.New("redirect URI rejected by provider")
	// ErrReauthorizationRequired means the stored credential was deleted
	// and the tenant must run the connect flow again.
	ErrReauthorizationRequired = errors.New("reauthorization required")
)

// ProviderError carries the provider's own error code and description
// from a rejected token-endpoint call.
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// PermissionCheck gates the operations that mutate the integration or
// spend its bearer token. The actual policy lives with the caller.
type PermissionCheck interface {
	CurrentUserMayManageIntegration(ctx context.Context) bool
}

// Config holds the provider application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURI must match the provider app registration exactly; the
	// same value is sent on the authorization URL and the code exchange.
	RedirectURI   string
	Scopes        []string
	AuthEndpoint  string
	TokenEndpoint string
	ExpirySkew    time.Duration
}

// Connector is safe for concurrent use.
type Connector struct {
	cfg    Config
	creds  domain.CredentialRepository
	states domain.StateStore
	http   httpx.FormPoster
	perms  PermissionCheck
	now    func() time.Time

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

func New(cfg Config, creds domain.CredentialRepository, states domain.StateStore,
	httpClient httpx.FormPoster, perms PermissionCheck, opts ...Option,
) *Connector {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = defaultAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = defaultTokenEndpoint
	}
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = defaultExpirySkew
	}

	c := &Connector{
		cfg:         cfg,
		creds:       creds,
		states:      states,
		http:        httpClient,
		perms:       perms,
		now:         time.Now,
		tenantLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status derives the tenant's connection state from the stored
// credential and the outstanding-nonce marker. Nothing is persisted for
// the pending state itself; it exists only while an issued state token
// is still within its validity window.
func (c *Connector) Status(ctx context.Context, tenantID string) (domain.ConnectionState, error) {
	cred, err := c.creds.Get(ctx, tenantID)
	if err != nil {
		return domain.ConnectionDisconnected, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		pending, err := c.states.Pending(ctx, tenantID)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("pending state lookup failed")
		}
		if pending {
			return domain.ConnectionPending, nil
		}
		return domain.ConnectionDisconnected, nil
	}
	if cred.ExpiredAt(c.now(), c.cfg.ExpirySkew) {
		return domain.ConnectionExpired, nil
	}
	return domain.ConnectionConnected, nil
}

// BeginAuthorization mints a state token bound to the tenant, records
// its nonce, and returns the provider authorization URL the browser
// should be redirected to. Abandoned attempts need no cleanup; the
// nonce simply expires.
func (c *Connector) BeginAuthorization(ctx context.Context, tenantID string) (string, error) {
	if !c.perms.CurrentUserMayManageIntegration(ctx) {
		return "", ErrPermissionDenied
	}

	token, err := statetoken.Issue(PurposeConnect, tenantID, c.now())
	if err != nil {
		return "", err
	}
	if err := c.states.Issue(ctx, token.Nonce, tenantID, statetoken.MaxAge); err != nil {
		return "", fmt.Errorf("recording state nonce: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", statetoken.Encode(token))
	// Offline access with forced consent, so Google issues a refresh
	// token on every connect rather than only the first one.
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")

	metrics.AuthorizationsStartedTotal.Inc()
	log.Info().Str("tenant_id", tenantID).Msg("authorization flow started")

	return c.cfg.AuthEndpoint + "?" + q.Encode(), nil
}

// CompleteAuthorization validates the provider callback and exchanges
// the authorization code for a credential. The nonce consumption is
// atomic, so a replayed callback (and with it a second exchange of the
// same single-use code) can never produce a second credential write.
func (c *Connector) CompleteAuthorization(ctx context.Context, tenantID, code, rawState string) error {
	token, err := statetoken.Decode(rawState, c.now())
	if err != nil {
		metrics.StateValidationFailuresTotal.Inc()
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	if token.Purpose != PurposeConnect || token.Origin != tenantID {
		metrics.StateValidationFailuresTotal.Inc()
		return ErrStateMismatch
	}

	issuedFor, ok, err := c.states.Consume(ctx, token.Nonce)
	if err != nil {
		return fmt.Errorf("consuming state nonce: %w", err)
	}
	if !ok || issuedFor != tenantID {
		metrics.StateValidationFailuresTotal.Inc()
		return fmt.Errorf("%w: state nonce unknown or already used", ErrInvalidState)
	}

	fields := url.Values{}
	fields.Set("grant_type", "authorization_code")
	fields.Set("code", code)
	fields.Set("client_id", c.cfg.ClientID)
	fields.Set("client_secret", c.cfg.ClientSecret)
	fields.Set("redirect_uri", c.cfg.RedirectURI)

	resp, err := c.http.PostForm(ctx, c.cfg.TokenEndpoint, fields)
	if err != nil {
		return c.providerError(err)
	}

	cred, err := credentialFromResponse(tenantID, resp, c.now())
	if err != nil {
		return err
	}

	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	if err := c.creds.Put(ctx, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	metrics.ConnectionsEstablishedTotal.Inc()
	log.Info().
		Str("tenant_id", tenantID).
		Time("expires_at", cred.ExpiresAt).
		Bool("offline_access", cred.RefreshToken != "").
		Msg("search console connected")

	return nil
}

// GetValidAccessToken returns a bearer token that is valid for at least
// the configured skew. Inside the validity window this is a pure read;
// past it, the refresh is serialized per tenant so concurrent callers
// trigger exactly one network refresh and observe its single result.
func (c *Connector) GetValidAccessToken(ctx context.Context, tenantID string) (string, error) {
	cred, err := c.creds.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return "", ErrNotConnected
	}
	if !cred.ExpiredAt(c.now(), c.cfg.ExpirySkew) {
		return cred.AccessToken, nil
	}

	lock := c.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have finished the
	// refresh (or deleted the credential) while we waited.
	cred, err = c.creds.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return "", ErrNotConnected
	}
	if !cred.ExpiredAt(c.now(), c.cfg.ExpirySkew) {
		return cred.AccessToken, nil
	}

	return c.refreshLocked(ctx, cred)
}

// refreshLocked exchanges the refresh token. Caller holds the tenant
// lock. Only a provider verdict that the refresh token itself is
// invalid deletes local state; every other failure is surfaced and the
// credential kept for a later retry.
func (c *Connector) refreshLocked(ctx context.Context, cred *domain.Credential) (string, error) {
	tenantID := cred.TenantID

	if cred.RefreshToken == "" {
		if err := c.creds.Delete(ctx, tenantID); err != nil {
			return "", fmt.Errorf("deleting credential: %w", err)
		}
		log.Warn().Str("tenant_id", tenantID).Msg("access token expired without refresh token")
		return "", fmt.Errorf("%w: no refresh token granted", ErrReauthorizationRequired)
	}

	fields := url.Values{}
	fields.Set("grant_type", "refresh_token")
	fields.Set("refresh_token", cred.RefreshToken)
	fields.Set("client_id", c.cfg.ClientID)
	fields.Set("client_secret", c.cfg.ClientSecret)

	resp, err := c.http.PostForm(ctx, c.cfg.TokenEndpoint, fields)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && statusErr.OAuthCode() == "invalid_grant" {
			// Refresh token revoked or expired on the provider side.
			if delErr := c.creds.Delete(ctx, tenantID); delErr != nil {
				return "", fmt.Errorf("deleting credential: %w", delErr)
			}
			metrics.TokenRefreshFailuresTotal.Inc()
			log.Warn().Str("tenant_id", tenantID).Msg("refresh token rejected, credential deleted")
			return "", fmt.Errorf("%w: refresh token rejected", ErrReauthorizationRequired)
		}
		metrics.TokenRefreshFailuresTotal.Inc()
		return "", c.providerError(err)
	}

	now := c.now()
	accessToken, expiresAt, err := tokenFromResponse(resp, now)
	if err != nil {
		metrics.TokenRefreshFailuresTotal.Inc()
		return "", err
	}

	cred.AccessToken = accessToken
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = now
	// Google rotates refresh tokens only occasionally; keep the old one
	// unless the response carries a replacement.
	if rotated, ok := resp["refresh_token"].(string); ok && rotated != "" {
		cred.RefreshToken = rotated
	}
	if scope, ok := resp["scope"].(string); ok && scope != "" {
		cred.Scope = strings.Fields(scope)
	}

	if err := c.creds.Put(ctx, cred); err != nil {
		return "", fmt.Errorf("storing refreshed credential: %w", err)
	}

	metrics.TokenRefreshesTotal.Inc()
	log.Debug().Str("tenant_id", tenantID).Time("expires_at", expiresAt).Msg("access token refreshed")

	return accessToken, nil
}

// Disconnect deletes the tenant's credential. Idempotent; there is no
// pending server-side state to cancel beyond natural nonce expiry.
func (c *Connector) Disconnect(ctx context.Context, tenantID string) error {
	if !c.perms.CurrentUserMayManageIntegration(ctx) {
		return ErrPermissionDenied
	}
	if err := c.creds.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	log.Info().Str("tenant_id", tenantID).Msg("search console disconnected")
	return nil
}

func (c *Connector) tenantLock(tenantID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		c.tenantLocks[tenantID] = lock
	}
	return lock
}

// providerError maps a failed token-endpoint call into the error
// taxonomy: named redirect-URI rejection, provider rejection with the
// provider's own code, or the transport error untouched.
func (c *Connector) providerError(err error) error {
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	code := statusErr.OAuthCode()
	desc := statusErr.OAuthDescription()
	if code == "redirect_uri_mismatch" || strings.Contains(desc, "redirect_uri") {
		return fmt.Errorf("%w: %s", ErrRedirectURIMismatch, desc)
	}
	if code == "" {
		code = fmt.Sprintf("http_%d", statusErr.StatusCode)
	}
	return &ProviderError{Code: code, Description: desc}
}

func credentialFromResponse(tenantID string, resp map[string]any, now time.Time) (*domain.Credential, error) {
	accessToken, expiresAt, err := tokenFromResponse(resp, now)
	if err != nil {
		return nil, err
	}

	cred := &domain.Credential{
		TenantID:    tenantID,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if refresh, ok := resp["refresh_token"].(string); ok {
		cred.RefreshToken = refresh
	}
	if scope, ok := resp["scope"].(string); ok && scope != "" {
		cred.Scope = strings.Fields(scope)
	}
	return cred, nil
}

func tokenFromResponse(resp map[string]any, now time.Time) (string, time.Time, error) {
	accessToken, _ := resp["access_token"].(string)
	if accessToken == "" {
		return "", time.Time{}, &ProviderError{Code: "invalid_response", Description: "token response missing access_token"}
	}
	expiresIn, ok := resp["expires_in"].(float64)
	if !ok || expiresIn <= 0 {
		return "", time.Time{}, &ProviderError{Code: "invalid_response", Description: "token response missing expires_in"}
	}
	return accessToken, now.Add(time.Duration(expiresIn) * time.Second), nil
}
