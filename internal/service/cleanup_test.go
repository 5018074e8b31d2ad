package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLocker struct {
	granted bool
	locks   int
	unlocks int
}

func (l *fakeLocker) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	l.locks++
	return l.granted, nil
}

func (l *fakeLocker) Unlock(ctx context.Context) error {
	l.unlocks++
	return nil
}

func TestSweeperPurgesExpired(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()

	staleCode := h.mintCode(t, 7)
	resp, err := h.exchangeCode(h.mintCode(t, 8))
	require.NoError(t, err)

	sweeper := NewSweeper(h.store, nil, testConfig(), zap.NewNop())
	sweeper.now = func() time.Time { return h.now }

	// Nothing has expired yet.
	purged, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, purged)

	h.now = h.now.Add(10 * time.Minute)
	purged, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	_, err = h.store.GetAuthorizationCode(ctx, staleCode)
	require.Error(t, err)

	// Tokens live past the code TTL; the grant survives every sweep.
	_, err = h.verifier.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	h.now = h.now.Add(8 * 24 * time.Hour)
	purged, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), purged)

	_, err = h.store.FindGrant(ctx, h.client.ID, 8)
	require.NoError(t, err)
}

func TestSweeperRespectsLeaderLock(t *testing.T) {
	h := newTokenTestHarness(t)
	h.mintCode(t, 7)
	h.now = h.now.Add(time.Hour)

	lock := &fakeLocker{granted: false}
	sweeper := NewSweeper(h.store, lock, testConfig(), zap.NewNop())
	sweeper.now = func() time.Time { return h.now }

	purged, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, purged)
	require.Equal(t, 1, lock.locks)
	require.Zero(t, lock.unlocks)

	lock.granted = true
	purged, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	require.Equal(t, 1, lock.unlocks)
}
