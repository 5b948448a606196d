package domain

import "time"

// ConnectionState describes the lifecycle of a tenant's Search Console
// connection. It is derived from the stored credential (and, for the
// pending state, from an outstanding authorization state token); it is
// never persisted itself.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionPending      ConnectionState = "authorization_pending"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionExpired      ConnectionState = "expired"
)

// Credential is the persisted OAuth2 token set for one tenant.
// The access token must never be used past ExpiresAt without a refresh
// attempt first.
type Credential struct {
	TenantID     string    `bson:"_id" json:"tenant_id"`
	AccessToken  string    `bson:"access_token" json:"access_token"`
	RefreshToken string    `bson:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
	Scope        []string  `bson:"scope,omitempty" json:"scope,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// ExpiredAt reports whether the access token is stale at the given
// instant, applying the provided clock skew allowance.
func (c *Credential) ExpiredAt(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(c.ExpiresAt)
}
