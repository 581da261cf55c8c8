package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, window time.Duration) (*Limiter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, window, zerolog.Nop()), mr, client
}

func TestConsumeWithinLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	d, err := limiter.CheckAndConsume(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	d, err = limiter.CheckAndConsume(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestRejectionDoesNotIncrement(t *testing.T) {
	limiter, _, client := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	const limit = 2
	for i := 0; i < limit; i++ {
		d, err := limiter.CheckAndConsume(ctx, "user-2", limit)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// The (limit+1)-th call is rejected and the stored counter stays put.
	d, err := limiter.CheckAndConsume(ctx, "user-2", limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.False(t, d.ResetAt.IsZero())

	count, err := client.Get(ctx, "ratelimit:user-2").Int()
	require.NoError(t, err)
	assert.Equal(t, limit, count)
}

func TestWindowReset(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	d, err := limiter.CheckAndConsume(ctx, "user-3", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.CheckAndConsume(ctx, "user-3", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	mr.FastForward(2 * time.Minute)

	d, err = limiter.CheckAndConsume(ctx, "user-3", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	d, err := limiter.CheckAndConsume(ctx, "a", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.CheckAndConsume(ctx, "b", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFailOpenOnStoreOutage(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, time.Minute)
	mr.Close()

	d, err := limiter.CheckAndConsume(context.Background(), "user-4", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
