package counter_stores

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aryangodara/rate_limiter_gate"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, now time.Time) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	server.SetTime(now)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return server, NewRedisStore(client)
}

func TestRedisStore_IncrementAndGet(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)

	tt := []struct {
		desc string
		runs int
		want int64
	}{
		{desc: "first request starts at one", runs: 1, want: 1},
		{desc: "counts past any limit", runs: 101, want: 101},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			_, store := newTestRedis(t, now)

			var got int64
			var err error
			for x := 0; x < ts.runs; x++ {
				got, err = store.IncrementAndGet(context.Background(), "ip:10.0.0.1", w)
				require.NoError(t, err)
			}
			assert.Equal(t, ts.want, got)
		})
	}
}

func TestRedisStore_ExpiresAfterRetention(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)
	server, store := newTestRedis(t, now)

	_, err := store.IncrementAndGet(context.Background(), "ip:10.0.0.1", w)
	require.NoError(t, err)

	bucket := store.bucketKey("ip:10.0.0.1", w.Index)
	assert.True(t, server.Exists(bucket))
	// 30s left in this window plus one retained window
	assert.Equal(t, 90*time.Second, server.TTL(bucket))

	server.FastForward(90 * time.Second)
	assert.False(t, server.Exists(bucket))
}

func TestRedisStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	const workers = 20
	const perWorker = 25

	now := time.Now()
	w := rate_limiter_gate.WindowAt(now, time.Minute)
	_, store := newTestRedis(t, now)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for x := 0; x < perWorker; x++ {
				_, err := store.IncrementAndGet(context.Background(), "hot", w)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := store.IncrementAndGet(context.Background(), "hot", w)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), got)
}

func TestRedisStore_Reset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)
	prev := rate_limiter_gate.WindowAt(now.Add(-time.Minute), time.Minute)
	server, store := newTestRedis(t, now.Add(-time.Minute))

	_, err := store.IncrementAndGet(ctx, "user:a", prev)
	require.NoError(t, err)
	server.SetTime(now)
	for x := 0; x < 3; x++ {
		_, err = store.IncrementAndGet(ctx, "user:a", w)
		require.NoError(t, err)
	}
	// shares the "user:a" prefix but is a different key
	_, err = store.IncrementAndGet(ctx, "user:a:b", w)
	require.NoError(t, err)
	_, err = store.IncrementAndGet(ctx, "user:a*", w)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, "user:a"))

	assert.False(t, server.Exists(store.bucketKey("user:a", w.Index)))
	assert.False(t, server.Exists(store.bucketKey("user:a", prev.Index)))
	assert.True(t, server.Exists(store.bucketKey("user:a:b", w.Index)))
	assert.True(t, server.Exists(store.bucketKey("user:a*", w.Index)))

	got, err := store.IncrementAndGet(ctx, "user:a", w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRedisStore_Prefix(t *testing.T) {
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)

	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	server.SetTime(now)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store := NewRedisStore(client, WithRedisPrefix("api:"))
	_, err = store.IncrementAndGet(context.Background(), "ip:1.2.3.4", w)
	require.NoError(t, err)

	assert.Equal(t, []string{"api:{ip:1.2.3.4}:" + strconv.FormatInt(w.Index, 10)}, server.Keys())
}

func TestRedisStore_ErrorsWhenUnavailable(t *testing.T) {
	now := time.Now()
	server, store := newTestRedis(t, now)
	server.SetError("ERR server unavailable")

	_, err := store.IncrementAndGet(context.Background(), "k", rate_limiter_gate.WindowAt(now, time.Minute))
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))

	server.SetError("")
	assert.NoError(t, store.Ping(context.Background()))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `ratelimit:{a\*b\?\[c\]\\}:`, escapeGlob(`ratelimit:{a*b?[c]\}:`))
}
