package domain

import "time"

// Client is a registered OAuth application. The reference deployment
// provisions a single client at install time, but nothing prevents more.
// Redirect URIs and the default scope are server-wide configuration rather
// than per-client columns.
type Client struct {
	ID         int64
	UniqID     string
	SecretHash string
	CreatedAt  time.Time
}

// Public reports whether the client has no confidential secret and must be
// treated as a PKCE-style public client.
func (c Client) Public() bool {
	return c.SecretHash == ""
}

// Grant records that a user authorized a client. It is unique per
// (client_id, user_id) and parents every code and token issued for the pair;
// deleting a grant cascades to its codes and tokens.
type Grant struct {
	ID       int64
	ClientID int64
	UserID   int64
}

// AuthorizationCode is a short-lived single-use credential minted on consent
// and consumed exactly once at the token endpoint.
type AuthorizationCode struct {
	Code        string
	GrantID     int64
	RedirectURI string
	Scope       string
	IDToken     string
	ExpiresAt   time.Time
}

// AccessToken is an opaque bearer credential for resource requests.
type AccessToken struct {
	Token     string
	GrantID   int64
	Scope     string
	ExpiresAt time.Time
}

// RefreshToken is the longer-lived credential used to obtain a fresh
// access/refresh pair. Rotated on every use.
type RefreshToken struct {
	Token     string
	GrantID   int64
	Scope     string
	ExpiresAt time.Time
}

// Principal is the identity resolved from a live access token. It is
// transient: the API dispatch layer impersonates this user for the remainder
// of the request.
type Principal struct {
	UserID   int64
	GrantID  int64
	ClientID string
	Scope    string
}
