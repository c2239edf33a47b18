package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOpen(t *testing.T) {
	rdb, err := Open(context.Background(), core.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, rdb)

	mr := miniredis.RunT(t)
	rdb, err = Open(context.Background(), core.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	assert.NotNil(t, rdb)
	_ = rdb.Close()
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	locker := NewLocker(rdb, time.Minute, core.NopLogger{})

	unlock, ok, err := locker.TryLock(ctx, "usage-reset:t1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "usage-reset:t1")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must fail fast")

	other, ok, err := locker.TryLock(ctx, "usage-reset:t2")
	require.NoError(t, err)
	assert.True(t, ok, "locks are per key")
	other()

	unlock()
	assert.False(t, mr.Exists(keyPrefix+"lock:usage-reset:t1"))

	unlock, ok, err = locker.TryLock(ctx, "usage-reset:t1")
	require.NoError(t, err)
	assert.True(t, ok)
	unlock()
}

func TestLockerExpiry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	locker := NewLocker(rdb, time.Minute, core.NopLogger{})

	stale, ok, err := locker.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	unlock, ok, err := locker.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken over")

	// the stale holder must not release the new holder's lock
	stale()
	assert.True(t, mr.Exists(keyPrefix+"lock:k"))
	unlock()
	assert.False(t, mr.Exists(keyPrefix+"lock:k"))
}

func TestHub(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	_, rdb := newRedis(t)
	hub := NewHub(rdb, core.NopLogger{})

	events, cancel, err := hub.Subscribe(ctx, "t1", "u1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, notification.Event{Type: notification.EventRead, TenantID: "t1", UserID: "u2"}))
	require.NoError(t, hub.Publish(ctx, notification.Event{
		Type:        notification.EventCreated,
		TenantID:    "t1",
		UserID:      "u1",
		UnreadCount: 3,
	}))

	select {
	case ev := <-events:
		assert.Equal(t, notification.EventCreated, ev.Type)
		assert.Equal(t, 3, ev.UnreadCount)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok, "events is closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed")
	}
}
