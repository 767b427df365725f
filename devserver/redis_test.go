package devserver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatctl/config"
)

const redisTestTTL = time.Minute

func newTestRedisHolds(t *testing.T) (*RedisHolds, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, config.DevServerConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	holds, err := NewRedisHolds(ctx, client, redisTestTTL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holds.Close() })
	return holds, mr
}

func TestRedisHolds_ReserveIsExclusive(t *testing.T) {
	holds, mr := newTestRedisHolds(t)
	ctx := context.Background()

	require.NoError(t, holds.Reserve(ctx, 1, 1001, 7))
	assert.ErrorIs(t, holds.Reserve(ctx, 1, 1001, 8), ErrHeld)
	require.NoError(t, holds.Reserve(ctx, 2, 1001, 8))

	holders, err := holds.Holders(ctx, 1, []int64{1001, 1002})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1001: 7}, holders)

	assert.Equal(t, redisTestTTL, mr.TTL(seatKey(1, 1001)))
	members, err := mr.SMembers(userKey(7))
	require.NoError(t, err)
	assert.Equal(t, []string{seatKey(1, 1001)}, members)
}

func TestRedisHolds_Release(t *testing.T) {
	holds, mr := newTestRedisHolds(t)
	ctx := context.Background()

	released, err := holds.Release(ctx, 1, 1001, 7)
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, holds.Reserve(ctx, 1, 1001, 7))
	_, err = holds.Release(ctx, 1, 1001, 8)
	assert.ErrorIs(t, err, ErrHeld)

	released, err = holds.Release(ctx, 1, 1001, 7)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists(userKey(7)))
	require.NoError(t, holds.Reserve(ctx, 1, 1001, 8))
}

func TestRedisHolds_LapsedHoldLeavesNextHolderAlone(t *testing.T) {
	holds, mr := newTestRedisHolds(t)
	ctx := context.Background()

	require.NoError(t, holds.Reserve(ctx, 42, 5, 1))
	mr.FastForward(2 * redisTestTTL)
	require.NoError(t, holds.Reserve(ctx, 42, 5, 2))

	freed, err := holds.ClearUser(ctx, 42, 1)
	require.NoError(t, err)
	assert.Empty(t, freed)

	_, err = holds.Release(ctx, 42, 5, 1)
	assert.ErrorIs(t, err, ErrHeld)

	holders, err := holds.Holders(ctx, 42, []int64{5})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{5: 2}, holders)
	assert.False(t, mr.Exists(userKey(1)))
}

func TestRedisHolds_ClearUserScopedToSession(t *testing.T) {
	holds, _ := newTestRedisHolds(t)
	ctx := context.Background()

	require.NoError(t, holds.Reserve(ctx, 1, 1001, 7))
	require.NoError(t, holds.Reserve(ctx, 1, 1002, 7))
	require.NoError(t, holds.Reserve(ctx, 1, 1003, 8))
	require.NoError(t, holds.Reserve(ctx, 2, 2001, 7))

	freed, err := holds.ClearUser(ctx, 1, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1001, 1002}, freed)

	holders, err := holds.Holders(ctx, 1, []int64{1001, 1002, 1003})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1003: 8}, holders)

	holders, err = holds.Holders(ctx, 2, []int64{2001})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2001: 7}, holders)
}
