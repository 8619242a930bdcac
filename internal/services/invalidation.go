package services

import (
	"context"

	"piggybank/internal/cache"
	"piggybank/internal/events"
)

// InvalidationKeys lists the cached queries a change makes stale. Goal
// deletes cascade to deposits and deposit inserts raise a goal's current
// amount, so both touch the two lists.
func InvalidationKeys(c events.Change) []string {
	switch {
	case c.Is(events.TableSavingsGoals, events.OpUpdate):
		return []string{cache.GoalsKey(c.UserID)}
	case c.Table == events.TableSavingsGoals, c.Table == events.TableDeposits:
		return cache.UserKeys(c.UserID)
	default:
		return nil
	}
}

// ChangeInvalidator returns an events.Handler that applies changes published
// by other instances to the local query cache.
func ChangeInvalidator(q *cache.QueryCache) events.Handler {
	return func(_ context.Context, c events.Change) error {
		if keys := InvalidationKeys(c); len(keys) > 0 {
			q.Invalidate(keys...)
		}
		return nil
	}
}
