package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"piggybank/internal/core"
	"piggybank/internal/events"
	applog "piggybank/internal/log"
	"piggybank/internal/sheets"
	"piggybank/internal/store"
)

// GoalReader resolves goal titles missing from older change messages.
type GoalReader interface {
	GetGoal(ctx context.Context, userID, id string) (core.SavingsGoal, error)
}

// LedgerWorker exports deposits announced on the change exchange to the
// spreadsheet ledger.
type LedgerWorker struct {
	ledger sheets.LedgerWriter
	goals  GoalReader
	logger *applog.Logger

	appended atomic.Int64
	skipped  atomic.Int64
}

// Stats counts handled changes since start.
type Stats struct {
	Appended int64
	Skipped  int64
}

// NewLedgerWorker builds the worker. goals may be nil; titles are then taken
// from the message only.
func NewLedgerWorker(ledger sheets.LedgerWriter, goals GoalReader, logger *applog.Logger) *LedgerWorker {
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	return &LedgerWorker{
		ledger: ledger,
		goals:  goals,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleChange is an events.Handler. Deposit inserts are appended to the
// ledger; every other change is acknowledged and ignored. A returned error
// makes the consumer requeue the message.
func (w *LedgerWorker) HandleChange(ctx context.Context, c events.Change) error {
	if !c.Is(events.TableDeposits, events.OpInsert) {
		w.skipped.Add(1)
		w.logger.DebugContext(ctx, "Ignoring change",
			applog.FieldTable, c.Table,
			applog.FieldOperation, c.Op,
			"row_id", c.RowID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing deposit",
		applog.FieldDepositID, c.RowID,
		applog.FieldUserID, c.UserID,
		applog.FieldGoalID, c.GoalID)

	entry := sheets.LedgerEntry{
		CreatedAt: c.At,
		UserID:    c.UserID,
		GoalID:    c.GoalID,
		GoalTitle: c.GoalTitle,
		Amount:    core.Money{Cents: c.AmountCents},
	}
	if entry.GoalTitle == "" {
		entry.GoalTitle = w.lookupTitle(ctx, c)
	}

	ref, err := w.ledger.AppendDeposit(ctx, entry)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrEmptyGoal) || errors.Is(err, core.ErrEmptyUser) {
			// Retrying cannot fix the payload.
			w.skipped.Add(1)
			w.logger.WarnContext(ctx, "Dropping unexportable deposit",
				applog.FieldDepositID, c.RowID,
				applog.FieldError, err)
			return nil
		}
		w.logger.ErrorContext(ctx, "Failed to append deposit to ledger",
			applog.FieldDepositID, c.RowID,
			applog.FieldError, err)
		return fmt.Errorf("append deposit %s: %w", c.RowID, err)
	}

	w.appended.Add(1)
	w.logger.InfoContext(ctx, "Deposit exported",
		applog.FieldDepositID, c.RowID,
		applog.FieldAmountCents, c.AmountCents,
		"ledger_ref", ref)
	return nil
}

func (w *LedgerWorker) lookupTitle(ctx context.Context, c events.Change) string {
	if w.goals == nil || c.GoalID == "" {
		return ""
	}
	g, err := w.goals.GetGoal(ctx, c.UserID, c.GoalID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.logger.WarnContext(ctx, "Failed to resolve goal title",
				applog.FieldGoalID, c.GoalID,
				applog.FieldError, err)
		}
		return ""
	}
	return g.Title
}

// Stats returns a snapshot of the counters.
func (w *LedgerWorker) Stats() Stats {
	return Stats{Appended: w.appended.Load(), Skipped: w.skipped.Load()}
}
