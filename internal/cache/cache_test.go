package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", 3)

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "b should have been evicted")
	assert.True(t, okC)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	now = now.Add(2 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 0, c.Size())
}

func TestManagerSweepsRegisteredCaches(t *testing.T) {
	c := NewLRUCache[int](10, -time.Second) // everything is born expired
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager()
	m.Register(c)
	assert.Equal(t, 2, m.Sweep())

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop() // idempotent
}

func TestQueryCacheReadThrough(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"goal"}, nil
	}

	v, err := Read(ctx, q, GoalsKey("u1"), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"goal"}, v)

	_, err = Read(ctx, q, GoalsKey("u1"), fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second read must hit the cache")

	q.Invalidate(GoalsKey("u1"))
	_, err = Read(ctx, q, GoalsKey("u1"), fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "read after invalidate must refetch")

	st := q.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
	assert.EqualValues(t, 1, st.Invalidations)
}

func TestQueryCacheDoesNotCacheErrors(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	boom := errors.New("backend down")
	_, err := Read(context.Background(), q, DepositsKey("u1"), func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := Read(context.Background(), q, DepositsKey("u1"), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueryCacheCollapsesConcurrentReads(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Read(context.Background(), q, GoalsKey("u1"), fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	// let the readers pile up on the in-flight fetch
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestQueryCacheInvalidateDuringFetchDropsStaleResult(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Read(context.Background(), q, GoalsKey("u1"), func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	q.Invalidate(GoalsKey("u1"))
	close(release)
	<-done

	v, err := Read(context.Background(), q, GoalsKey("u1"), func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Zero(t, trackedKeys(q))
}

func trackedKeys(q *QueryCache) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.gen) + len(q.inflight)
}

func TestQueryCacheInvalidateKeepsNoStateForIdleKeys(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	for i := 0; i < 1000; i++ {
		q.InvalidateUser(fmt.Sprintf("u%d", i))
	}
	assert.Zero(t, trackedKeys(q))
	assert.EqualValues(t, 2000, q.Stats().Invalidations)

	_, err := Read(context.Background(), q, GoalsKey("u1"), func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.Zero(t, trackedKeys(q), "failed fetches release their key")
}

func TestQueryCacheInvalidateUser(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	ctx := context.Background()
	load := func(v int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return v, nil }
	}
	for _, key := range []string{GoalsKey("u1"), DepositsKey("u1"), DepositsKey("u2")} {
		_, err := Read(ctx, q, key, load(1))
		require.NoError(t, err)
	}
	require.Equal(t, 3, q.Stats().Entries)

	q.InvalidateUser("u1")
	assert.Equal(t, 1, q.Stats().Entries)
	_, ok := q.entries.Get(DepositsKey("u2"))
	assert.True(t, ok, "other users keep their entries")
}

func TestQueryCacheReadHonoursCallerContext(t *testing.T) {
	q := NewQueryCache(10, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Read(ctx, q, GoalsKey("u1"), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
