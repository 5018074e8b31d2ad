package repository

import (
	"context"
	"time"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
)

// Store is the persistence boundary for OAuth state. Implementations must
// make every method atomic on its own; WithTx groups several calls into a
// single atomic unit for the token exchange path.
type Store interface {
	// Clients.
	GetClient(ctx context.Context, uniqID string) (domain.Client, error)
	GetClientByID(ctx context.Context, id int64) (domain.Client, error)
	FirstClient(ctx context.Context) (domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (domain.Client, error)

	// Grants. GetOrCreateGrant is idempotent per (clientID, userID).
	GetOrCreateGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error)
	FindGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error)
	GetGrant(ctx context.Context, id int64) (domain.Grant, error)

	// Authorization codes. UpsertAuthorizationCode replaces any pending
	// code for the same grant. DeleteAuthorizationCode reports whether a
	// row was actually removed, which is the single-use consumption check.
	UpsertAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
	DeleteAuthorizationCode(ctx context.Context, code string) (bool, error)

	// Access tokens. UpsertAccessToken replaces the grant's existing token;
	// InsertAccessToken adds one without touching prior tokens.
	UpsertAccessToken(ctx context.Context, token domain.AccessToken) error
	InsertAccessToken(ctx context.Context, token domain.AccessToken) error
	GetAccessToken(ctx context.Context, token string) (domain.AccessToken, error)
	DeleteAccessToken(ctx context.Context, token string) (bool, error)
	DeleteAccessTokensForGrant(ctx context.Context, grantID int64) (int64, error)

	// Refresh tokens. DeleteRefreshToken reports whether a row was removed,
	// making rotation race-safe under concurrent use of the same token.
	InsertRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)

	// PurgeExpired removes codes and tokens whose expiry is at or before
	// the cutoff. Grants are never purged.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)

	// WithTx runs fn against a Store view whose writes commit or roll back
	// together. fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
