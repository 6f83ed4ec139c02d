package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
)

func testCache(t *testing.T) *RedisCache {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, logger.Nop())
}

func TestPublishWakeReachesSubscriber(t *testing.T) {
	cache := testCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := cache.SubscribeWake(ctx)
	// give the subscription a beat to register
	time.Sleep(50 * time.Millisecond)

	cache.PublishWake(ctx)

	select {
	case _, ok := <-wake:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("wake notification not delivered")
	}
}

func TestWakeTicksCoalesce(t *testing.T) {
	cache := testCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := cache.SubscribeWake(ctx)
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		cache.PublishWake(ctx)
	}
	time.Sleep(100 * time.Millisecond)

	// at least one tick arrives; the buffer holds at most one
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("no tick after burst")
	}
	select {
	case <-wake:
		// a second pending tick is acceptable but there must be no flood
		select {
		case <-wake:
			t.Fatal("wake ticks did not coalesce")
		case <-time.After(50 * time.Millisecond):
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetNXMutex(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "lock:sched", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetNX(ctx, "lock:sched", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	cache := testCache(t)
	assert.NoError(t, cache.Ping(context.Background()))
}
