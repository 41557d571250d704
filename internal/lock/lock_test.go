package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Acquire(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "acc-1")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "acc-1")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := m.Acquire(ctx, "acc-2")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := m.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	again()
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedis_Acquire(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedis(rdb, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("mailer:lock:acc-1"))
	assert.Equal(t, time.Minute, mr.TTL("mailer:lock:acc-1"))

	_, err = l.Acquire(ctx, "acc-1")
	assert.ErrorIs(t, err, ErrHeld)

	release()
	assert.False(t, mr.Exists("mailer:lock:acc-1"))

	_, err = l.Acquire(ctx, "acc-1")
	assert.NoError(t, err)
}

func TestRedis_ExpiredLockIsNotStolenBack(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedis(rdb, time.Minute)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "acc-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	fresh, err := l.Acquire(ctx, "acc-1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("mailer:lock:acc-1"))

	fresh()
	assert.False(t, mr.Exists("mailer:lock:acc-1"))
}

func TestRedis_Unreachable(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()

	_, err := NewRedis(rdb, time.Minute).Acquire(context.Background(), "acc-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeld)
}
