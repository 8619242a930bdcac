package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggybank/internal/core"
	"piggybank/internal/events"
	applog "piggybank/internal/log"
	"piggybank/internal/sheets"
	"piggybank/internal/sheets/memory"
	"piggybank/internal/store"
)

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Output: io.Discard})
}

type failingLedger struct{ err error }

func (f failingLedger) AppendDeposit(context.Context, sheets.LedgerEntry) (string, error) {
	return "", f.err
}

type goalsByID map[string]core.SavingsGoal

func (g goalsByID) GetGoal(_ context.Context, userID, id string) (core.SavingsGoal, error) {
	goal, ok := g[id]
	if !ok || goal.UserID != userID {
		return core.SavingsGoal{}, store.ErrNotFound
	}
	return goal, nil
}

func depositChange() events.Change {
	return events.Change{
		Table:       events.TableDeposits,
		Op:          events.OpInsert,
		UserID:      "u1",
		RowID:       "d1",
		GoalID:      "g1",
		GoalTitle:   "Holiday",
		AmountCents: 2500,
		At:          time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestLedgerWorker_AppendsDeposits(t *testing.T) {
	ledger := memory.New()
	w := NewLedgerWorker(ledger, nil, quietLogger())

	require.NoError(t, w.HandleChange(context.Background(), depositChange()))

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Holiday", entries[0].GoalTitle)
	assert.Equal(t, int64(2500), entries[0].Amount.Cents)
	assert.Equal(t, "g1", entries[0].GoalID)
	assert.Equal(t, Stats{Appended: 1}, w.Stats())
}

func TestLedgerWorker_IgnoresOtherChanges(t *testing.T) {
	ledger := memory.New()
	w := NewLedgerWorker(ledger, nil, quietLogger())
	ctx := context.Background()

	for _, c := range []events.Change{
		{Table: events.TableSavingsGoals, Op: events.OpInsert, UserID: "u1", RowID: "g1"},
		{Table: events.TableSavingsGoals, Op: events.OpUpdate, UserID: "u1", RowID: "g1"},
		{Table: events.TableSavingsGoals, Op: events.OpDelete, UserID: "u1", RowID: "g1"},
	} {
		require.NoError(t, w.HandleChange(ctx, c))
	}
	assert.Empty(t, ledger.Entries())
	assert.Equal(t, Stats{Skipped: 3}, w.Stats())
}

func TestLedgerWorker_ResolvesMissingTitle(t *testing.T) {
	ledger := memory.New()
	goals := goalsByID{"g1": {ID: "g1", UserID: "u1", Title: "New bike"}}
	w := NewLedgerWorker(ledger, goals, quietLogger())

	c := depositChange()
	c.GoalTitle = ""
	require.NoError(t, w.HandleChange(context.Background(), c))
	assert.Equal(t, "New bike", ledger.Entries()[0].GoalTitle)

	c.GoalID = "missing"
	require.NoError(t, w.HandleChange(context.Background(), c))
	assert.Equal(t, "", ledger.Entries()[1].GoalTitle)
}

func TestLedgerWorker_LedgerFailureRequeues(t *testing.T) {
	boom := errors.New("quota exceeded")
	w := NewLedgerWorker(failingLedger{err: boom}, nil, quietLogger())

	err := w.HandleChange(context.Background(), depositChange())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, w.Stats().Appended)
}

func TestLedgerWorker_DropsUnexportable(t *testing.T) {
	ledger := memory.New()
	w := NewLedgerWorker(ledger, nil, quietLogger())

	c := depositChange()
	c.AmountCents = 0
	assert.NoError(t, w.HandleChange(context.Background(), c))
	assert.Empty(t, ledger.Entries())
	assert.Equal(t, int64(1), w.Stats().Skipped)
}
