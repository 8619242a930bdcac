package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Query key prefixes. A key is "<query>:<user id>".
const (
	QuerySavingsGoals = "savings-goals"
	QueryDeposits     = "deposits"
)

// GoalsKey identifies the goal list of a user.
func GoalsKey(userID string) string { return QuerySavingsGoals + ":" + userID }

// DepositsKey identifies the deposit list of a user.
func DepositsKey(userID string) string { return QueryDeposits + ":" + userID }

// UserKeys returns every query key belonging to userID.
func UserKeys(userID string) []string {
	return []string{GoalsKey(userID), DepositsKey(userID)}
}

// Stats is a snapshot of query cache counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Entries       int
}

// QueryCache is the single keyed store of server-fetched query results.
// Values enter only through Read's fetch function; writers invalidate keys
// and the next Read refetches. Cached values are shared and must not be
// mutated by callers.
type QueryCache struct {
	entries *LRUCache[any]
	group   singleflight.Group

	// gen holds invalidation generations only for keys with a fetch in
	// flight; both maps are pruned when the last fetch of a key returns.
	mu       sync.Mutex
	gen      map[string]uint64
	inflight map[string]int
	seq      uint64

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

func NewQueryCache(maxEntries int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		entries:  NewLRUCache[any](maxEntries, ttl),
		gen:      make(map[string]uint64),
		inflight: make(map[string]int),
	}
}

// CleanExpired lets a Manager sweep the cache.
func (q *QueryCache) CleanExpired() int {
	return q.entries.CleanExpired()
}

func (q *QueryCache) beginFetch(key string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight[key]++
	return q.gen[key]
}

// endFetch stores v unless key was invalidated since beginFetch returned gen.
func (q *QueryCache) endFetch(key string, gen uint64, v any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ok && q.gen[key] == gen {
		q.entries.Set(key, v)
	}
	q.inflight[key]--
	if q.inflight[key] <= 0 {
		delete(q.inflight, key)
		delete(q.gen, key)
	}
}

// Invalidate drops the given keys. Fetches already in flight for them will
// not repopulate the cache.
func (q *QueryCache) Invalidate(keys ...string) {
	q.mu.Lock()
	for _, key := range keys {
		if q.inflight[key] > 0 {
			q.seq++
			q.gen[key] = q.seq
		}
	}
	q.mu.Unlock()

	for _, key := range keys {
		q.entries.Delete(key)
		q.group.Forget(key)
		q.invalidations.Add(1)
	}
}

// InvalidateUser drops every query of userID.
func (q *QueryCache) InvalidateUser(userID string) {
	q.Invalidate(UserKeys(userID)...)
}

func (q *QueryCache) Stats() Stats {
	return Stats{
		Hits:          q.hits.Load(),
		Misses:        q.misses.Load(),
		Invalidations: q.invalidations.Load(),
		Entries:       q.entries.Size(),
	}
}

// Read returns the cached value for key or runs fetch to load it. Concurrent
// readers of the same key share a single fetch. Errors are not cached.
func Read[T any](ctx context.Context, q *QueryCache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := q.entries.Get(key); ok {
		if typed, ok := v.(T); ok {
			q.hits.Add(1)
			return typed, nil
		}
		q.entries.Delete(key)
	}
	q.misses.Add(1)

	ch := q.group.DoChan(key, func() (any, error) {
		gen := q.beginFetch(key)
		var (
			v   T
			err error
		)
		defer func() { q.endFetch(key, gen, v, err == nil) }()
		// detached so one cancelled reader does not fail the others
		v, err = fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache key %q holds %T", key, res.Val)
		}
		return typed, nil
	}
}
