package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
)

func TestMemoryStoreGetOrCreateGrant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreateGrant(ctx, 1, 100)
	require.NoError(t, err)
	second, err := store.GetOrCreateGrant(ctx, 1, 100)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	other, err := store.GetOrCreateGrant(ctx, 1, 101)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	_, err = store.FindGrant(ctx, 2, 100)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreCodeConsumption(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	require.NoError(t, store.UpsertAuthorizationCode(ctx, domain.AuthorizationCode{
		Code: "c1", GrantID: 1, ExpiresAt: expires,
	}))

	deleted, err := store.DeleteAuthorizationCode(ctx, "c1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.DeleteAuthorizationCode(ctx, "c1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestMemoryStoreUpsertCodeReplacesPerGrant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	require.NoError(t, store.UpsertAuthorizationCode(ctx, domain.AuthorizationCode{Code: "c1", GrantID: 1, ExpiresAt: expires}))
	require.NoError(t, store.UpsertAuthorizationCode(ctx, domain.AuthorizationCode{Code: "c2", GrantID: 1, ExpiresAt: expires}))
	require.NoError(t, store.UpsertAuthorizationCode(ctx, domain.AuthorizationCode{Code: "c3", GrantID: 2, ExpiresAt: expires}))

	_, err := store.GetAuthorizationCode(ctx, "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetAuthorizationCode(ctx, "c2")
	require.NoError(t, err)
	_, err = store.GetAuthorizationCode(ctx, "c3")
	require.NoError(t, err)
}

func TestMemoryStoreUpsertAccessTokenReplacesPerGrant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.UpsertAccessToken(ctx, domain.AccessToken{Token: "a1", GrantID: 1, ExpiresAt: expires}))
	require.NoError(t, store.UpsertAccessToken(ctx, domain.AccessToken{Token: "a2", GrantID: 1, ExpiresAt: expires}))

	_, err := store.GetAccessToken(ctx, "a1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetAccessToken(ctx, "a2")
	require.NoError(t, err)

	require.NoError(t, store.InsertAccessToken(ctx, domain.AccessToken{Token: "a3", GrantID: 1, ExpiresAt: expires}))
	_, err = store.GetAccessToken(ctx, "a2")
	require.NoError(t, err)
	_, err = store.GetAccessToken(ctx, "a3")
	require.NoError(t, err)
}

func TestMemoryStoreDeleteAccessTokensForGrant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	require.NoError(t, store.InsertAccessToken(ctx, domain.AccessToken{Token: "a1", GrantID: 1, ExpiresAt: expires}))
	require.NoError(t, store.InsertAccessToken(ctx, domain.AccessToken{Token: "a2", GrantID: 1, ExpiresAt: expires}))
	require.NoError(t, store.InsertAccessToken(ctx, domain.AccessToken{Token: "b1", GrantID: 2, ExpiresAt: expires}))

	deleted, err := store.DeleteAccessTokensForGrant(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	_, err = store.GetAccessToken(ctx, "a1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetAccessToken(ctx, "b1")
	require.NoError(t, err)
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertAuthorizationCode(ctx, domain.AuthorizationCode{Code: "dead", GrantID: 1, ExpiresAt: cutoff.Add(-time.Second)}))
	require.NoError(t, store.InsertAccessToken(ctx, domain.AccessToken{Token: "exact", GrantID: 1, ExpiresAt: cutoff}))
	require.NoError(t, store.InsertRefreshToken(ctx, domain.RefreshToken{Token: "live", GrantID: 1, ExpiresAt: cutoff.Add(time.Second)}))

	purged, err := store.PurgeExpired(ctx, cutoff)
	require.NoError(t, err)
	// A credential expiring exactly at the cutoff is already dead.
	require.Equal(t, int64(2), purged)

	_, err = store.GetRefreshToken(ctx, "live")
	require.NoError(t, err)
}

func TestMemoryStoreWithTxRollsNothingBack(t *testing.T) {
	// The in-memory store has no rollback; WithTx only serializes. The
	// service layer orders writes so a mid-exchange failure cannot leave a
	// half-issued state behind a consumed credential.
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		return tx.InsertAccessToken(ctx, domain.AccessToken{Token: "t", GrantID: 1, ExpiresAt: time.Now().Add(time.Hour)})
	})
	require.NoError(t, err)

	_, err = store.GetAccessToken(ctx, "t")
	require.NoError(t, err)
}
