package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"piggybank/internal/core"
	"piggybank/internal/dbx"
	"piggybank/internal/store"
)

// SQLiteRepository is the SQLite implementation of store.Backend.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ store.Backend = (*SQLiteRepository)(nil)

// DSN builds the connection string for dbPath with foreign keys enforced on
// every connection, so goal deletes cascade to deposits.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, userID string) ([]core.SavingsGoal, error) {
	rows, err := r.queries.ListGoalsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	goals := make([]core.SavingsGoal, len(rows))
	for i, g := range rows {
		goals[i] = g.toCore()
	}
	return goals, nil
}

func (r *SQLiteRepository) GetGoal(ctx context.Context, userID, id string) (core.SavingsGoal, error) {
	row, err := r.queries.GetGoal(ctx, userID, id)
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("get goal %s: %w", id, mapErr(err))
	}
	return row.toCore(), nil
}

func (r *SQLiteRepository) InsertGoal(ctx context.Context, ng store.NewGoal) (core.SavingsGoal, error) {
	row, err := r.queries.CreateGoal(ctx, goalRow{
		ID:                uuid.NewString(),
		UserID:            ng.UserID,
		Title:             ng.Title,
		TargetAmountCents: ng.TargetAmount.Cents,
		CreatedAt:         toMicros(r.now()),
	})
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("create goal: %w", mapErr(err))
	}

	slog.DebugContext(ctx, "Goal saved to SQLite",
		"goal_id", row.ID,
		"user_id", row.UserID,
		"target_cents", row.TargetAmountCents)

	return row.toCore(), nil
}

func (r *SQLiteRepository) UpdateGoal(ctx context.Context, userID, id string, p store.GoalPatch) (core.SavingsGoal, error) {
	row, err := r.queries.UpdateGoal(ctx, userID, id, p.Title, p.TargetAmount.Cents)
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("update goal %s: %w", id, mapErr(err))
	}
	return row.toCore(), nil
}

func (r *SQLiteRepository) DeleteGoal(ctx context.Context, userID, id string) error {
	n, err := r.queries.DeleteGoal(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete goal %s: %w", id, mapErr(err))
	}
	if n == 0 {
		return fmt.Errorf("delete goal %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListDeposits(ctx context.Context, userID string) ([]core.Deposit, error) {
	rows, err := r.queries.ListDepositsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	deposits := make([]core.Deposit, len(rows))
	for i, d := range rows {
		deposits[i] = d.toCore()
	}
	return deposits, nil
}

func (r *SQLiteRepository) InsertDeposit(ctx context.Context, nd store.NewDeposit) (core.Deposit, error) {
	row := depositRow{
		ID:          uuid.NewString(),
		UserID:      nd.UserID,
		GoalID:      nd.GoalID,
		AmountCents: nd.Amount.Cents,
		CreatedAt:   toMicros(r.now()),
	}
	n, err := r.queries.CreateDeposit(ctx, row)
	if err != nil {
		return core.Deposit{}, fmt.Errorf("create deposit: %w", mapErr(err))
	}
	if n == 0 {
		return core.Deposit{}, fmt.Errorf("create deposit for goal %s: %w", nd.GoalID, store.ErrNotFound)
	}

	slog.DebugContext(ctx, "Deposit saved to SQLite",
		"deposit_id", row.ID,
		"goal_id", row.GoalID,
		"amount_cents", row.AmountCents)

	return row.toCore(), nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, email, passwordHash string) (core.User, error) {
	row := userRow{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: toMicros(r.now())}
	if err := r.queries.CreateUser(ctx, row); err != nil {
		return core.User{}, fmt.Errorf("create user: %w", mapErr(err))
	}
	return row.toRecord().User, nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (store.UserRecord, error) {
	row, err := r.queries.GetUserByEmail(ctx, email)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user by email: %w", mapErr(err))
	}
	return row.toRecord(), nil
}

func (r *SQLiteRepository) UserByID(ctx context.Context, id string) (store.UserRecord, error) {
	row, err := r.queries.GetUserByID(ctx, id)
	if err != nil {
		return store.UserRecord{}, fmt.Errorf("get user %s: %w", id, mapErr(err))
	}
	return row.toRecord(), nil
}

func (r *SQLiteRepository) UpdateUserEmail(ctx context.Context, id, email string) (core.User, error) {
	var updated userRow
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		q := New(tx)
		n, err := q.UpdateUserEmail(ctx, id, email)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		updated, err = q.GetUserByID(ctx, id)
		return err
	})
	if err != nil {
		return core.User{}, fmt.Errorf("update user email: %w", mapErr(err))
	}
	return updated.toRecord().User, nil
}

func (r *SQLiteRepository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	n, err := r.queries.UpdateUserPassword(ctx, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", mapErr(err))
	}
	if n == 0 {
		return fmt.Errorf("update user password %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// CreateSession stores the session and prunes the user's expired ones in the
// same transaction.
func (r *SQLiteRepository) CreateSession(ctx context.Context, s store.SessionRecord) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		q := New(tx)
		if err := q.DeleteExpiredUserSessions(ctx, s.UserID, toMicros(s.CreatedAt)); err != nil {
			return err
		}
		return q.CreateSession(ctx, sessionRow{
			ID:        s.ID,
			UserID:    s.UserID,
			CreatedAt: toMicros(s.CreatedAt),
			ExpiresAt: toMicros(s.ExpiresAt),
		})
	})
	if err != nil {
		return fmt.Errorf("create session: %w", mapErr(err))
	}
	return nil
}

func (r *SQLiteRepository) SessionByID(ctx context.Context, id string) (store.SessionRecord, error) {
	row, err := r.queries.GetSession(ctx, id)
	if err != nil {
		return store.SessionRecord{}, fmt.Errorf("get session: %w", mapErr(err))
	}
	return store.SessionRecord{
		ID:        row.ID,
		UserID:    row.UserID,
		CreatedAt: fromMicros(row.CreatedAt),
		ExpiresAt: fromMicros(row.ExpiresAt),
	}, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	if err := r.queries.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.queries.DeleteExpiredSessions(ctx, toMicros(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

func (g goalRow) toCore() core.SavingsGoal {
	return core.SavingsGoal{
		ID:            g.ID,
		UserID:        g.UserID,
		Title:         g.Title,
		TargetAmount:  core.Money{Cents: g.TargetAmountCents},
		CurrentAmount: core.Money{Cents: g.CurrentAmountCents},
		CreatedAt:     fromMicros(g.CreatedAt),
	}
}

func (d depositRow) toCore() core.Deposit {
	return core.Deposit{
		ID:        d.ID,
		GoalID:    d.GoalID,
		UserID:    d.UserID,
		Amount:    core.Money{Cents: d.AmountCents},
		CreatedAt: fromMicros(d.CreatedAt),
	}
}

func (u userRow) toRecord() store.UserRecord {
	return store.UserRecord{
		User:         core.User{ID: u.ID, Email: u.Email, CreatedAt: fromMicros(u.CreatedAt)},
		PasswordHash: u.PasswordHash,
	}
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if isNoRows(err) {
		return store.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
		if code&0xff == sqlite3.SQLITE_CONSTRAINT {
			switch msg := err.Error(); {
			case strings.Contains(msg, "UNIQUE"):
				return fmt.Errorf("%w: %v", store.ErrConflict, err)
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("%w: %v", store.ErrNotFound, err)
			}
		}
	}
	return err
}
