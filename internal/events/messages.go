package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tables whose rows emit change events.
const (
	TableSavingsGoals = "savings_goals"
	TableDeposits     = "deposits"
)

// Row operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Change is a row-level notification published after a successful write.
// GoalTitle and AmountCents are filled for deposit inserts so consumers do
// not have to read the backend.
type Change struct {
	Table       string    `json:"table"`
	Op          string    `json:"op"`
	UserID      string    `json:"user_id"`
	RowID       string    `json:"row_id"`
	GoalID      string    `json:"goal_id,omitempty"`
	GoalTitle   string    `json:"goal_title,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	At          time.Time `json:"at"`
}

// Validate rejects changes consumers could not route.
func (c Change) Validate() error {
	switch c.Table {
	case TableSavingsGoals, TableDeposits:
	default:
		return fmt.Errorf("unknown table %q", c.Table)
	}
	switch c.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	if c.UserID == "" {
		return fmt.Errorf("change without user id")
	}
	if c.RowID == "" {
		return fmt.Errorf("change without row id")
	}
	return nil
}

// Is reports whether the change concerns table and op.
func (c Change) Is(table, op string) bool {
	return c.Table == table && c.Op == op
}

// ToJSON converts the change to JSON bytes
func (c Change) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// ChangeFromJSON decodes and validates a change.
func ChangeFromJSON(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, err
	}
	if err := c.Validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}
