package sheets

import (
	"context"
	"time"

	"piggybank/internal/core"
)

// LedgerEntry is one exported deposit row.
type LedgerEntry struct {
	CreatedAt time.Time
	UserID    string
	GoalID    string
	GoalTitle string
	Amount    core.Money
}

// Ports for outbound adapters.
type (
	// LedgerWriter appends deposits to an external spreadsheet.
	LedgerWriter interface {
		AppendDeposit(ctx context.Context, e LedgerEntry) (rowRef string, err error)
	}
)

// LedgerHeader labels the columns written by LedgerEntry.Row.
var LedgerHeader = []any{"created_at", "user_id", "goal_id", "goal", "amount"}

// Validate rejects entries that would produce an unusable row.
func (e LedgerEntry) Validate() error {
	if e.UserID == "" {
		return core.ErrEmptyUser
	}
	if e.GoalID == "" {
		return core.ErrEmptyGoal
	}
	return e.Amount.Validate()
}

// Row renders the entry as spreadsheet cells:
// created_at, user_id, goal_id, goal title, amount with two decimals.
func (e LedgerEntry) Row() []any {
	return []any{
		e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		e.UserID,
		e.GoalID,
		e.GoalTitle,
		e.Amount.Decimal().StringFixed(2),
	}
}
