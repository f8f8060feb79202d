package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodstream/vod-backend/pkg/redis"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return redis.NewFromClient(raw), mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestRedis(t)

	first, err := NewRedisLock(client, "vod:lock:cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, "vod:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "non-owner release must not free the lock")

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedis(t)
	lock, err := NewRedisLock(client, "vod:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Minute)

	other, err := NewRedisLock(client, "vod:lock:cron", time.Minute)
	require.NoError(t, err)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx))
	assert.True(t, mr.Exists("vod:lock:cron"))
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "key", time.Minute)
	assert.Error(t, err)
}

func TestRedisLockHolderNamesInstance(t *testing.T) {
	t.Setenv("VOD_WORKER_ID", "cron-worker-7")
	ctx := context.Background()
	client, _ := newTestRedis(t)
	lock, err := NewRedisLock(client, "vod:lock:cron", time.Minute)
	require.NoError(t, err)

	holder, err := lock.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	holder, err = lock.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cron-worker-7", holder)

	require.NoError(t, lock.Release(ctx))
	holder, err = lock.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)
}
