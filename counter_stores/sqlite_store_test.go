package counter_stores

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "counters.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(SQLiteConfig{})
	assert.Error(t, err)
}

func TestSQLiteStore_IncrementAndGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)
	store := newTestSQLite(t)

	for x := int64(1); x <= 5; x++ {
		got, err := store.IncrementAndGet(ctx, "ip:10.0.0.1", w)
		require.NoError(t, err)
		assert.Equal(t, x, got)
	}

	got, err := store.IncrementAndGet(ctx, "ip:10.0.0.2", w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = store.IncrementAndGet(ctx, "ip:10.0.0.1", rate_limiter_gate.WindowAt(now.Add(time.Minute), time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counters.db")
	w := rate_limiter_gate.WindowAt(time.Now(), time.Minute)

	store, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	for x := 0; x < 3; x++ {
		_, err = store.IncrementAndGet(ctx, "k", w)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.IncrementAndGet(ctx, "k", w)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestSQLiteStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	const workers = 10
	const perWorker = 20

	w := rate_limiter_gate.WindowAt(time.Now(), time.Minute)
	store := newTestSQLite(t)

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

func TestSQLiteStore_ResetAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	w := rate_limiter_gate.WindowAt(now, time.Minute)
	store := newTestSQLite(t)

	for _, key := range []rate_limiter_gate.LimitKey{"a", "b", "c"} {
		_, err := store.IncrementAndGet(ctx, key, w)
		require.NoError(t, err)
	}

	require.NoError(t, store.Reset(ctx, "a"))
	got, err := store.IncrementAndGet(ctx, "a", w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	removed, err := store.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// default retention keeps one window past the current one
	removed, err = store.Sweep(ctx, w.End().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.NoError(t, store.Ping(ctx))
}
