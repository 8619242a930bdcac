// Package storetest holds the behavioural suite every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggybank/internal/core"
	"piggybank/internal/store"
)

// Run exercises the backend returned by newBackend. A fresh backend is
// created for every subtest.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	t.Run("goals lifecycle", func(t *testing.T) { testGoalsLifecycle(t, newBackend(t)) })
	t.Run("goals are user scoped", func(t *testing.T) { testGoalsUserScoped(t, newBackend(t)) })
	t.Run("deposit raises current amount", func(t *testing.T) { testDepositRaisesCurrent(t, newBackend(t)) })
	t.Run("deposit to foreign goal", func(t *testing.T) { testDepositForeignGoal(t, newBackend(t)) })
	t.Run("delete cascades deposits", func(t *testing.T) { testDeleteCascades(t, newBackend(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newBackend(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newBackend(t)) })
}

func mustUser(t *testing.T, b store.Backend, email string) core.User {
	t.Helper()
	u, err := b.CreateUser(context.Background(), email, "hash")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	return u
}

func testGoalsLifecycle(t *testing.T, b store.Backend) {
	ctx := context.Background()
	u := mustUser(t, b, "ada@example.com")

	goals, err := b.ListGoals(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, goals)

	first, err := b.InsertGoal(ctx, store.NewGoal{UserID: u.ID, Title: "Bike", TargetAmount: core.Money{Cents: 50000}})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, core.Money{}, first.CurrentAmount)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	second, err := b.InsertGoal(ctx, store.NewGoal{UserID: u.ID, Title: "Holiday", TargetAmount: core.Money{Cents: 120000}})
	require.NoError(t, err)

	goals, err = b.ListGoals(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, second.ID, goals[0].ID, "newest goal first")
	assert.Equal(t, first.ID, goals[1].ID)

	got, err := b.GetGoal(ctx, u.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bike", got.Title)

	updated, err := b.UpdateGoal(ctx, u.ID, first.ID, store.GoalPatch{Title: "Road bike", TargetAmount: core.Money{Cents: 75000}})
	require.NoError(t, err)
	assert.Equal(t, "Road bike", updated.Title)
	assert.Equal(t, core.Money{Cents: 75000}, updated.TargetAmount)

	require.NoError(t, b.DeleteGoal(ctx, u.ID, first.ID))
	_, err = b.GetGoal(ctx, u.ID, first.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	goals, err = b.ListGoals(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, second.ID, goals[0].ID)

	err = b.DeleteGoal(ctx, u.ID, first.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound), "second delete: %v", err)
}

func testGoalsUserScoped(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := mustUser(t, b, "owner@example.com")
	other := mustUser(t, b, "other@example.com")

	g, err := b.InsertGoal(ctx, store.NewGoal{UserID: owner.ID, Title: "Car", TargetAmount: core.Money{Cents: 100}})
	require.NoError(t, err)

	goals, err := b.ListGoals(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, goals)

	_, err = b.GetGoal(ctx, other.ID, g.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = b.UpdateGoal(ctx, other.ID, g.ID, store.GoalPatch{Title: "Mine", TargetAmount: core.Money{Cents: 1}})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = b.DeleteGoal(ctx, other.ID, g.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	still, err := b.GetGoal(ctx, owner.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Car", still.Title)
}

func testDepositRaisesCurrent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	u := mustUser(t, b, "dep@example.com")
	g, err := b.InsertGoal(ctx, store.NewGoal{UserID: u.ID, Title: "Fund", TargetAmount: core.Money{Cents: 10000}})
	require.NoError(t, err)

	d1, err := b.InsertDeposit(ctx, store.NewDeposit{UserID: u.ID, GoalID: g.ID, Amount: core.Money{Cents: 1250}})
	require.NoError(t, err)
	assert.Equal(t, g.ID, d1.GoalID)
	assert.Equal(t, u.ID, d1.UserID)

	time.Sleep(5 * time.Millisecond)
	d2, err := b.InsertDeposit(ctx, store.NewDeposit{UserID: u.ID, GoalID: g.ID, Amount: core.Money{Cents: 750}})
	require.NoError(t, err)

	got, err := b.GetGoal(ctx, u.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Money{Cents: 2000}, got.CurrentAmount)

	deposits, err := b.ListDeposits(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.Equal(t, d2.ID, deposits[0].ID, "newest deposit first")
	assert.Equal(t, d1.ID, deposits[1].ID)
	assert.Equal(t, core.Money{Cents: 1250}, deposits[1].Amount)
}

func testDepositForeignGoal(t *testing.T, b store.Backend) {
	ctx := context.Background()
	owner := mustUser(t, b, "a@example.com")
	other := mustUser(t, b, "b@example.com")
	g, err := b.InsertGoal(ctx, store.NewGoal{UserID: owner.ID, Title: "Fund", TargetAmount: core.Money{Cents: 10000}})
	require.NoError(t, err)

	_, err = b.InsertDeposit(ctx, store.NewDeposit{UserID: other.ID, GoalID: g.ID, Amount: core.Money{Cents: 100}})
	require.Error(t, err)

	got, err := b.GetGoal(ctx, owner.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Money{}, got.CurrentAmount)
}

func testDeleteCascades(t *testing.T, b store.Backend) {
	ctx := context.Background()
	u := mustUser(t, b, "cascade@example.com")
	keep, err := b.InsertGoal(ctx, store.NewGoal{UserID: u.ID, Title: "Keep", TargetAmount: core.Money{Cents: 100}})
	require.NoError(t, err)
	drop, err := b.InsertGoal(ctx, store.NewGoal{UserID: u.ID, Title: "Drop", TargetAmount: core.Money{Cents: 100}})
	require.NoError(t, err)

	_, err = b.InsertDeposit(ctx, store.NewDeposit{UserID: u.ID, GoalID: keep.ID, Amount: core.Money{Cents: 10}})
	require.NoError(t, err)
	_, err = b.InsertDeposit(ctx, store.NewDeposit{UserID: u.ID, GoalID: drop.ID, Amount: core.Money{Cents: 20}})
	require.NoError(t, err)

	require.NoError(t, b.DeleteGoal(ctx, u.ID, drop.ID))

	deposits, err := b.ListDeposits(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, keep.ID, deposits[0].GoalID)
}

func testUsers(t *testing.T, b store.Backend) {
	ctx := context.Background()
	u := mustUser(t, b, "grace@example.com")

	_, err := b.CreateUser(ctx, "grace@example.com", "other")
	assert.True(t, errors.Is(err, store.ErrConflict), "duplicate email: %v", err)

	rec, err := b.UserByEmail(ctx, "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.ID)
	assert.Equal(t, "hash", rec.PasswordHash)

	_, err = b.UserByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	updated, err := b.UpdateUserEmail(ctx, u.ID, "grace.h@example.com")
	require.NoError(t, err)
	assert.Equal(t, "grace.h@example.com", updated.Email)

	mustUser(t, b, "taken@example.com")
	_, err = b.UpdateUserEmail(ctx, u.ID, "taken@example.com")
	assert.True(t, errors.Is(err, store.ErrConflict), "email taken: %v", err)

	require.NoError(t, b.UpdateUserPassword(ctx, u.ID, "new-hash"))
	rec, err = b.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", rec.PasswordHash)
	assert.Equal(t, "grace.h@example.com", rec.Email)

	_, err = b.UserByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testSessions(t *testing.T, b store.Backend) {
	ctx := context.Background()
	u := mustUser(t, b, "sess@example.com")
	now := time.Now().UTC().Truncate(time.Second)

	live := store.SessionRecord{ID: "11111111-1111-4111-8111-111111111111", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := store.SessionRecord{ID: "22222222-2222-4222-8222-222222222222", UserID: u.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, b.CreateSession(ctx, live))
	require.NoError(t, b.CreateSession(ctx, stale))

	got, err := b.SessionByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, got.ExpiresAt.Equal(live.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, live.ExpiresAt)

	n, err := b.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = b.SessionByID(ctx, stale.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, b.DeleteSession(ctx, live.ID))
	_, err = b.SessionByID(ctx, live.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, b.DeleteSession(ctx, live.ID), "deleting twice is not an error")
}
