package store

import (
	"context"
	"errors"
	"time"

	"piggybank/internal/core"
)

var (
	// ErrNotFound is returned when a single-row read or write matches nothing
	// owned by the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint (user email) is violated.
	ErrConflict = errors.New("conflict")
)

type (
	NewGoal struct {
		UserID       string
		Title        string
		TargetAmount core.Money
	}

	GoalPatch struct {
		Title        string
		TargetAmount core.Money
	}

	NewDeposit struct {
		UserID string
		GoalID string
		Amount core.Money
	}

	// UserRecord is a user with its credential, visible only to the auth layer.
	UserRecord struct {
		core.User
		PasswordHash string
	}

	SessionRecord struct {
		ID        string
		UserID    string
		CreatedAt time.Time
		ExpiresAt time.Time
	}
)

// Ports for the remote data service.
type (
	// GoalStore reads and writes the savings_goals table. Every call is scoped
	// to one user.
	GoalStore interface {
		// ListGoals returns the user's goals, newest first.
		ListGoals(ctx context.Context, userID string) ([]core.SavingsGoal, error)
		GetGoal(ctx context.Context, userID, id string) (core.SavingsGoal, error)
		// InsertGoal stores the goal with a zero current amount.
		InsertGoal(ctx context.Context, g NewGoal) (core.SavingsGoal, error)
		UpdateGoal(ctx context.Context, userID, id string, p GoalPatch) (core.SavingsGoal, error)
		// DeleteGoal removes the goal together with its deposits.
		DeleteGoal(ctx context.Context, userID, id string) error
	}

	// DepositStore reads and writes the deposits table.
	DepositStore interface {
		// ListDeposits returns the user's deposits, newest first.
		ListDeposits(ctx context.Context, userID string) ([]core.Deposit, error)
		// InsertDeposit stores the deposit and raises the goal's current amount
		// in the same write.
		InsertDeposit(ctx context.Context, d NewDeposit) (core.Deposit, error)
	}

	UserStore interface {
		CreateUser(ctx context.Context, email, passwordHash string) (core.User, error)
		UserByEmail(ctx context.Context, email string) (UserRecord, error)
		UserByID(ctx context.Context, id string) (UserRecord, error)
		UpdateUserEmail(ctx context.Context, id, email string) (core.User, error)
		UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	}

	SessionStore interface {
		CreateSession(ctx context.Context, s SessionRecord) error
		SessionByID(ctx context.Context, id string) (SessionRecord, error)
		DeleteSession(ctx context.Context, id string) error
		// DeleteExpiredSessions prunes sessions expired before now.
		DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	}

	// Backend is the full remote data service.
	Backend interface {
		GoalStore
		DepositStore
		UserStore
		SessionStore
		Ping(ctx context.Context) error
		Close() error
	}
)
