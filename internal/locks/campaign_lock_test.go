package locks_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow-backend/internal/locks"
)

func newTestLock(t *testing.T) (*locks.CampaignLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return locks.New(client), mr
}

func TestAcquireIsExclusivePerCampaign(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	token, ok, err := lock.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = lock.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire on the same campaign must fail")

	// A different campaign is an independent lease.
	_, ok, err = lock.Acquire(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	token, ok, err := lock.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, 1, token))

	_, ok, err = lock.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseWithWrongTokenKeepsLease(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, 1, "stale-token"))

	_, ok, err = lock.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "lease must survive a release by a non-owner")
}

func TestLeaseExpiresAfterTTL(t *testing.T) {
	lock, mr := newTestLock(t)
	lock.TTL = 5 * time.Second
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	_, ok, err = lock.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is up for grabs")
}
