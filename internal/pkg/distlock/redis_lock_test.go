package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestAcquireIsExclusive(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	first := NewRedisLock(client, "repair-keyspace", time.Minute)
	second := NewRedisLock(client, "repair-keyspace", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:repair-keyspace"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)
	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:repair-keyspace"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "repair-keyspace", time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, l.Extend(ctx, time.Minute), ErrNotHeld)

	other := NewRedisLock(client, "repair-keyspace", time.Second)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExtend(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "repair-keyspace", time.Second)
	_, err := l.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, l.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(l.Key()))
}
